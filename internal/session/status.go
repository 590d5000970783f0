package session

import (
	"time"

	"live-subtitler/internal/protocol"
)

// RunStatus is the /live/status view of the session.
type RunStatus struct {
	Running       bool   `json:"running"`
	LiveStartedAt int64  `json:"liveStartedAt,omitempty"`
	Mode          string `json:"mode"`
	DelaySec      int    `json:"delaySec"`
	FragmentMode  bool   `json:"fragmentMode"`
	MinSubtitlers int    `json:"minSubtitlers"`
}

// SlotDump is one slot in the raw-caption export.
type SlotDump struct {
	SlotIndex       int                         `json:"slotIndex"`
	SubtitlerID     string                      `json:"subtitlerId"`
	SubtitlerName   string                      `json:"subtitlerName"`
	StartVideoMs    int64                       `json:"startVideoOffsetMs"`
	EndVideoMs      int64                       `json:"endVideoOffsetMs,omitempty"`
	Captions        []protocol.RawCaptionRecord `json:"captions"`
	OverlapFromPrev int                         `json:"overlapFromPrev"`
	FinalText       string                      `json:"finalText"`
	Sent            bool                        `json:"sent"`
}

// RunStatus returns the live-run summary.
func (e *Engine) RunStatus() RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := RunStatus{
		Running:       e.running,
		Mode:          e.mode,
		DelaySec:      e.cfg.DelaySec,
		FragmentMode:  e.fragmentActive,
		MinSubtitlers: e.cfg.MinRequired(),
	}
	if e.running {
		st.LiveStartedAt = e.liveStartedAt.UnixMilli()
	}
	return st
}

// FragmentStatus returns the aggregate fragment view for HTTP polling.
func (e *Engine) FragmentStatus() protocol.AdminStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adminStatusLocked()
}

// RawCaptionsDump returns the slot-indexed export of all received text.
func (e *Engine) RawCaptionsDump() []SlotDump {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SlotDump, 0, len(e.slots))
	for _, s := range e.slots {
		dump := SlotDump{
			SlotIndex:       s.Index,
			SubtitlerID:     s.SubtitlerID,
			SubtitlerName:   s.SubtitlerName,
			StartVideoMs:    s.StartVideoOffsetMs,
			EndVideoMs:      s.EndVideoOffsetMs,
			OverlapFromPrev: s.OverlapFromPrev,
			FinalText:       s.FinalText,
			Sent:            s.Sent,
			Captions:        make([]protocol.RawCaptionRecord, 0, len(s.Captions)),
		}
		for _, c := range s.Captions {
			dump.Captions = append(dump.Captions, protocol.RawCaptionRecord{
				Text:           c.Text,
				VideoTimestamp: c.VideoTimestamp,
				ReceivedAt:     c.ReceivedAt.UnixMilli(),
				AutoSent:       c.AutoSent,
			})
		}
		out = append(out, dump)
	}
	return out
}

// FusedHistory returns emitted fused captions in order.
func (e *Engine) FusedHistory() []protocol.FusedRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.FusedRecord, len(e.fused))
	copy(out, e.fused)
	return out
}

// statusCommonLocked builds the shared status section.
func (e *Engine) statusCommonLocked() protocol.StatusCommon {
	common := protocol.StatusCommon{
		Active:             e.fragmentActive,
		SlotDuration:       e.cfg.SlotDuration,
		GracePeriodPercent: e.cfg.GracePercent,
		RequiredSubtitlers: e.cfg.RequiredSubtitlers,
		OverlapDuration:    e.cfg.OverlapDuration,
		CurrentSlotIndex:   -1,
		SubtitlerCount:     len(e.roster),
		Subtitlers:         make([]protocol.SubtitlerInfo, 0, len(e.roster)),
	}
	for _, s := range e.roster {
		common.Subtitlers = append(common.Subtitlers, protocol.SubtitlerInfo{ID: s.ID, Name: s.Name})
	}
	if last := e.lastStartedSlotLocked(); last != nil {
		common.CurrentSlotIndex = last.Index
		common.CurrentSubtitlerID = last.SubtitlerID
		common.CurrentSubtitlerName = last.SubtitlerName
	}
	return common
}

func (e *Engine) adminStatusLocked() protocol.AdminStatus {
	raws := 0
	for _, s := range e.slots {
		raws += len(s.Captions)
	}
	return protocol.AdminStatus{
		Type:               protocol.TypeAdminStatus,
		StatusCommon:       e.statusCommonLocked(),
		RawCaptionsCount:   raws,
		FusedCaptionsCount: len(e.fused),
		SlotsCount:         len(e.slots),
	}
}

// broadcastStatusLocked sends the individualized status to every roster
// member and the aggregate status to admins. Broadcasts are at-least-once;
// recipients tolerate redelivery.
func (e *Engine) broadcastStatusLocked() {
	common := e.statusCommonLocked()
	now := e.timers.Now()

	for pos, s := range e.roster {
		msg := protocol.SubtitlerStatus{
			Type:         protocol.TypeFragmentStatus,
			StatusCommon: common,
		}
		if idx, ok := e.openSlot[s.ID]; ok {
			msg.IsMyTurn = true
			if slot := e.slotByIndex(idx); slot != nil {
				bodyEnd := slot.StartAt.Add(time.Duration(e.cfg.SlotDuration) * time.Second)
				if now.Before(bodyEnd) {
					msg.SecondsRemaining = int(bodyEnd.Sub(now).Seconds())
				} else {
					msg.InGracePeriod = true
					deadline := slot.StartAt.Add(time.Duration(e.cfg.SubmitDeadline()) * time.Second)
					if now.Before(deadline) {
						msg.SecondsRemaining = int(deadline.Sub(now).Seconds())
					}
				}
			}
		} else {
			msg.SecondsRemaining = e.secondsToNextTurnLocked(pos, now)
		}
		e.out.SendTo(s.ConnID, msg)
	}

	e.out.ToAdmins(e.adminStatusLocked())
}

// secondsToNextTurnLocked estimates the countdown to the subtitler's next
// assigned slot start, given their position in the ordered roster.
func (e *Engine) secondsToNextTurnLocked(pos int, now time.Time) int {
	if !e.fragmentActive || e.waiting || len(e.roster) == 0 || e.lastSlotStart.IsZero() {
		return 0
	}
	next := e.currentSlot
	for j := next; j < next+len(e.roster); j++ {
		if j%len(e.roster) == pos {
			startAt := e.lastSlotStart.Add(time.Duration((j-(e.currentSlot-1))*e.cfg.Stride()) * time.Second)
			secs := int(startAt.Sub(now).Seconds())
			if secs < 0 {
				secs = 0
			}
			return secs
		}
	}
	return 0
}

func (e *Engine) lastStartedSlotLocked() *Slot {
	if len(e.slots) == 0 {
		return nil
	}
	return e.slots[len(e.slots)-1]
}
