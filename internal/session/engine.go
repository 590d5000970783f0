// Package session implements the subtitling coordination engine: the
// session state store, the overlapping slot scheduler, the submission
// gate, caption fusion, and the word-paced delivery pipeline.
//
// All state mutation is serialized by a single mutex. Timer callbacks and
// inbound client messages both lock it; fan-out sends are non-blocking so
// holding the lock across them is safe.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"live-subtitler/internal/platform/metrics"
	"live-subtitler/internal/protocol"
	"live-subtitler/internal/timer"
)

// Broadcaster is the slice of the client hub the engine needs.
type Broadcaster interface {
	SendTo(connID string, msg any)
	ToAll(msg any)
	ToAdmins(msg any)
	ToSubtitlers(msg any)
	ToSubtitlersExcept(connID string, msg any)
	ToSpectators(msg any)
}

// Timer group tags, used for bulk cancellation.
const (
	groupStride = "stride"
	groupSlot   = "slot"
	groupStatus = "status"
	groupSettle = "settle"
	groupPacer  = "pacer"
)

// Engine owns one session's state for the duration of a run.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	timers  *timer.Service
	out     Broadcaster
	log     *slog.Logger
	metrics *metrics.Metrics

	running       bool
	mode          string
	source        string
	liveStartedAt time.Time

	fragmentActive bool
	waiting        bool
	fragmentEpoch  uint64
	currentSlot    int
	slots          []*Slot
	openSlot       map[string]int
	roster         []*Subtitler
	fused          []protocol.FusedRecord
	lastSlotStart  time.Time
}

// New returns an Engine with the given initial configuration. metrics may
// be nil to disable instrumentation (e.g. in tests).
func New(cfg Config, ts *timer.Service, out Broadcaster, log *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:      cfg,
		timers:   ts,
		out:      out,
		log:      log,
		metrics:  m,
		mode:     ModeFragmentation,
		openSlot: make(map[string]int),
	}
}

// ConfigSnapshot returns the current configuration.
func (e *Engine) ConfigSnapshot() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// DelaySec returns the current spectator delay.
func (e *Engine) DelaySec() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.DelaySec
}

// Join adds a subtitler to the rotation roster. Joining twice updates the
// name only. If the scheduler was parked waiting for the required count,
// reaching it starts the rotation.
func (e *Engine) Join(connID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.subtitlerByConn(connID); s != nil {
		if name != "" {
			s.Name = name
		}
	} else {
		if name == "" {
			name = "subtitler-" + connID[:min(8, len(connID))]
		}
		e.roster = append(e.roster, &Subtitler{
			ID:       connID,
			Name:     name,
			ConnID:   connID,
			JoinedAt: e.timers.Now(),
		})
		sort.SliceStable(e.roster, func(i, j int) bool {
			return e.roster[i].JoinedAt.Before(e.roster[j].JoinedAt)
		})
		e.log.Info("subtitler joined", slog.String("conn_id", connID), slog.String("name", name))
	}

	e.out.SendTo(connID, protocol.Joined{Type: protocol.TypeFragmentJoined, ConnID: connID, Active: e.fragmentActive})

	if e.fragmentActive && e.waiting && len(e.roster) >= e.cfg.RequiredSubtitlers {
		e.waiting = false
		e.startNextSlotLocked()
		e.registerStrideLocked()
	}
	e.broadcastStatusLocked()
}

// Leave removes a subtitler from the roster. Their in-flight slot keeps
// its assignment and text; rotation recomputes on the next slot start.
func (e *Engine) Leave(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.roster {
		if s.ConnID == connID {
			e.roster = append(e.roster[:i], e.roster[i+1:]...)
			e.log.Info("subtitler left", slog.String("conn_id", connID), slog.String("name", s.Name))
			break
		}
	}
	e.broadcastStatusLocked()
}

// StartRun activates a live run with the given mode and configuration.
func (e *Engine) StartRun(source, mode string, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	if mode == "" {
		mode = ModeFragmentation
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if mode == ModeFragmentation && len(e.roster) < cfg.RequiredSubtitlers {
		return ErrTooFewSubtitlers
	}

	e.cfg = cfg
	e.running = true
	e.mode = mode
	e.source = source
	e.liveStartedAt = e.timers.Now()

	if e.metrics != nil {
		e.metrics.IncRunsStarted()
	}
	e.log.Info("run started",
		slog.String("source", source),
		slog.String("mode", mode),
		slog.Int("delay_sec", cfg.DelaySec),
		slog.Int("slot_duration", cfg.SlotDuration),
	)
	e.out.ToAll(protocol.Live{
		Type:          protocol.TypeLive,
		Status:        "started",
		DelaySec:      e.cfg.DelaySec,
		LiveStartedAt: e.liveStartedAt.UnixMilli(),
	})

	if mode == ModeFragmentation {
		e.startFragmentLocked()
	}
	return nil
}

// StopRun ends the active run. It is idempotent.
func (e *Engine) StopRun() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	if e.fragmentActive {
		e.stopFragmentLocked()
	}

	e.running = false
	e.timers.CancelAll()
	e.resetSlotStateLocked()

	e.log.Info("run stopped")
	e.out.ToAll(protocol.Live{Type: protocol.TypeLive, Status: "stopped", DelaySec: e.cfg.DelaySec})
}

// StartFragment activates fragment mode within a running session.
func (e *Engine) StartFragment(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if e.fragmentActive {
		return ErrFragmentActive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	e.startFragmentLocked()
	return nil
}

// StopFragment deactivates fragment mode, flushing unsent slots.
func (e *Engine) StopFragment() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.fragmentActive {
		return ErrFragmentInactive
	}
	e.stopFragmentLocked()
	return nil
}

// UpdateConfig replaces the fragment configuration between runs of the
// scheduler.
func (e *Engine) UpdateConfig(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fragmentActive {
		return ErrFragmentActive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// SetDelay changes the spectator delay. During a run it can only grow
// relative to the configuration's minimum.
func (e *Engine) SetDelay(sec int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sec < e.cfg.MinDelay() {
		return ErrDelayTooSmall
	}
	if e.cfg.MaxDelaySec > 0 && sec > e.cfg.MaxDelaySec {
		return ErrDelayTooLarge
	}
	e.cfg.DelaySec = sec
	e.out.ToAll(protocol.Config{Type: protocol.TypeConfig, DelaySec: sec})
	return nil
}

// startFragmentLocked resets slot state and either begins the rotation or
// parks waiting for the required subtitler count.
func (e *Engine) startFragmentLocked() {
	e.timers.CancelGroup(groupStride)
	e.timers.CancelGroup(groupSlot)
	e.timers.CancelGroup(groupStatus)
	e.timers.CancelGroup(groupSettle)
	e.timers.CancelGroup(groupPacer)
	e.resetSlotStateLocked()

	e.fragmentActive = true
	e.fragmentEpoch++
	if e.metrics != nil {
		e.metrics.SetFragmentActive(true)
	}
	e.out.ToAll(protocol.Event{Type: protocol.TypeFragmentStarted})
	e.log.Info("fragment mode started",
		slog.Int("slot_duration", e.cfg.SlotDuration),
		slog.Int("overlap", e.cfg.OverlapDuration),
		slog.Int("grace_percent", e.cfg.GracePercent),
		slog.Int("required", e.cfg.RequiredSubtitlers),
	)

	// Status goes out at least once per second while active.
	epoch := e.fragmentEpoch
	e.timers.ScheduleEvery(groupStatus, time.Second, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.fragmentActive && e.fragmentEpoch == epoch {
			e.broadcastStatusLocked()
		}
	})

	if len(e.roster) < e.cfg.RequiredSubtitlers {
		e.waiting = true
		e.broadcastStatusLocked()
		return
	}
	e.waiting = false
	e.startNextSlotLocked()
	e.registerStrideLocked()
}

// stopFragmentLocked cancels the rotation, flushes unsent slots in order,
// and clears the open-slot map.
func (e *Engine) stopFragmentLocked() {
	e.timers.CancelGroup(groupStride)
	e.timers.CancelGroup(groupSlot)
	e.timers.CancelGroup(groupStatus)
	e.timers.CancelGroup(groupSettle)

	e.sendRemainingSlotsLocked()
	e.timers.CancelGroup(groupPacer)

	e.fragmentActive = false
	e.waiting = false
	e.fragmentEpoch++
	e.openSlot = make(map[string]int)
	if e.metrics != nil {
		e.metrics.SetFragmentActive(false)
	}
	e.out.ToAll(protocol.Event{Type: protocol.TypeFragmentStopped})
	e.log.Info("fragment mode stopped", slog.Int("slots", len(e.slots)))
}

func (e *Engine) registerStrideLocked() {
	epoch := e.fragmentEpoch
	stride := time.Duration(e.cfg.Stride()) * time.Second
	e.timers.ScheduleEvery(groupStride, stride, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.fragmentActive && e.fragmentEpoch == epoch {
			e.startNextSlotLocked()
		}
	})
}

func (e *Engine) resetSlotStateLocked() {
	e.currentSlot = 0
	e.slots = nil
	e.fused = nil
	e.openSlot = make(map[string]int)
	e.waiting = false
	e.lastSlotStart = time.Time{}
}

// Query helpers. Callers must hold the mutex.

func (e *Engine) subtitlerByConn(connID string) *Subtitler {
	for _, s := range e.roster {
		if s.ConnID == connID {
			return s
		}
	}
	return nil
}

// subtitlerForSlot maps a slot index onto the ordered roster.
func (e *Engine) subtitlerForSlot(i int) *Subtitler {
	if len(e.roster) == 0 {
		return nil
	}
	return e.roster[i%len(e.roster)]
}

func (e *Engine) slotByIndex(i int) *Slot {
	for _, s := range e.slots {
		if s.Index == i {
			return s
		}
	}
	return nil
}
