package session

import (
	"log/slog"
	"time"

	"live-subtitler/internal/protocol"
)

// startNextSlotLocked creates the next slot, pins its assignment, and arms
// the per-slot timers. With too few subtitlers it only rebroadcasts status;
// the stride interval keeps re-checking.
func (e *Engine) startNextSlotLocked() {
	if len(e.roster) < e.cfg.RequiredSubtitlers {
		e.broadcastStatusLocked()
		return
	}

	i := e.currentSlot
	current := e.subtitlerForSlot(i)
	next := e.subtitlerForSlot(i + 1)
	now := e.timers.Now()

	slot := &Slot{
		Index:              i,
		SubtitlerID:        current.ID,
		SubtitlerName:      current.Name,
		StartAt:            now,
		StartVideoOffsetMs: now.Sub(e.liveStartedAt).Milliseconds(),
	}
	e.slots = append(e.slots, slot)
	e.openSlot[current.ID] = i
	e.lastSlotStart = now

	d := time.Duration(e.cfg.SlotDuration) * time.Second
	stride := time.Duration(e.cfg.Stride()) * time.Second
	grace := time.Duration(e.cfg.Grace()) * time.Second
	notify := time.Duration(e.cfg.NotifyBefore) * time.Second
	epoch := e.fragmentEpoch

	currentConn := current.ConnID
	nextConn := next.ConnID

	e.timers.Schedule(groupSlot, d-notify, func() {
		e.withSlot(epoch, func() {
			e.out.SendTo(currentConn, protocol.Notice{Type: protocol.TypeEnding, SecondsLeft: e.cfg.NotifyBefore})
			e.broadcastStatusLocked()
		})
	})

	if stride-notify > 0 {
		e.timers.Schedule(groupSlot, stride-notify, func() {
			e.withSlot(epoch, func() {
				e.out.SendTo(nextConn, protocol.Notice{Type: protocol.TypePrepare, SecondsLeft: e.cfg.NotifyBefore})
				e.broadcastStatusLocked()
			})
		})
	}

	e.timers.Schedule(groupSlot, d, func() {
		e.withSlot(epoch, func() {
			e.out.SendTo(currentConn, protocol.GraceStart{Type: protocol.TypeGraceStart, GracePeriodPercent: e.cfg.GracePercent})
			e.broadcastStatusLocked()
		})
	})

	e.timers.Schedule(groupSlot, d+grace, func() {
		e.withSlot(epoch, func() {
			e.closeSlotLocked(slot, epoch)
		})
	})

	e.currentSlot++
	if e.metrics != nil {
		e.metrics.IncSlotsStarted()
	}
	e.log.Info("slot started",
		slog.Int("slot", i),
		slog.String("subtitler", current.Name),
		slog.Int64("video_offset_ms", slot.StartVideoOffsetMs),
	)
	e.broadcastStatusLocked()
}

// closeSlotLocked runs at grace end: notify the assigned subtitler to
// auto-send, stamp the slot end, and release the open-slot entry. The
// entry is cleared only when it still maps to this slot; a newer slot of
// the same subtitler may have remapped it already. Finalization follows
// after the settle delay to accept a late auto-send still in flight.
func (e *Engine) closeSlotLocked(slot *Slot, epoch uint64) {
	now := e.timers.Now()

	e.out.SendTo(slot.SubtitlerID, protocol.Event{Type: protocol.TypeAutoSend})
	slot.EndAt = now
	slot.EndVideoOffsetMs = now.Sub(e.liveStartedAt).Milliseconds()

	if idx, ok := e.openSlot[slot.SubtitlerID]; ok && idx == slot.Index {
		delete(e.openSlot, slot.SubtitlerID)
	}

	e.timers.Schedule(groupSettle, e.cfg.settle(), func() {
		e.withSlot(epoch, func() {
			e.finalizeLocked(slot.Index)
		})
	})
	e.broadcastStatusLocked()
}

// withSlot runs fn under the engine mutex when the fragment epoch that
// scheduled the callback is still the live one.
func (e *Engine) withSlot(epoch uint64, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fragmentActive || e.fragmentEpoch != epoch {
		return
	}
	fn()
}
