package session

import (
	"log/slog"
	"strings"
	"time"

	"live-subtitler/internal/protocol"
)

// maxCaptionLen bounds a single submission's text.
const maxCaptionLen = 500

// SubmitCaption validates a caption candidate against the open-slot map
// and attaches it to the correct slot. Outside fragment mode the gate is
// bypassed and the caption goes straight to spectators with a display
// time of now + delay.
func (e *Engine) SubmitCaption(connID, text string, autoSent bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.timers.Now()
	text = truncateCaption(strings.TrimSpace(text))

	if !e.fragmentActive {
		name := ""
		if s := e.subtitlerByConn(connID); s != nil {
			name = s.Name
		}
		e.out.ToSpectators(protocol.CaptionEcho{
			Type:          protocol.TypeCaption,
			Caption:       text,
			SubtitlerName: name,
			DisplayAt:     now.Add(time.Duration(e.cfg.DelaySec) * time.Second).UnixMilli(),
		})
		return nil
	}

	sub := e.subtitlerByConn(connID)
	if sub == nil {
		e.rejectLocked(connID, "not joined")
		return ErrNotJoined
	}

	deadline := time.Duration(e.cfg.SubmitDeadline()) * time.Second

	var slot *Slot
	if idx, ok := e.openSlot[sub.ID]; ok {
		slot = e.slotByIndex(idx)
	}
	if slot == nil {
		// Close race: the grace-end timer already removed the mapping
		// while this submission was in flight. Auto-sends land in the
		// subtitler's most recent slot; manual captions only if still
		// within that slot's deadline.
		slot = e.lastSlotOfLocked(sub.ID)
		if slot != nil && !autoSent && now.After(slot.StartAt.Add(deadline)) {
			slot = nil
		}
	}
	if slot == nil {
		e.rejectLocked(connID, "no-open-slot")
		return ErrNoOpenSlot
	}
	if !autoSent && now.After(slot.StartAt.Add(deadline)) {
		e.rejectLocked(connID, "past deadline")
		return ErrSubmitTooLate
	}

	elapsed := now.Sub(slot.StartAt).Milliseconds()
	if bodyMs := int64(e.cfg.SlotDuration) * 1000; elapsed > bodyMs {
		elapsed = bodyMs
	}
	rc := RawCaption{
		Text:           text,
		VideoTimestamp: slot.StartVideoOffsetMs + elapsed,
		ReceivedAt:     now,
		AutoSent:       autoSent,
	}
	slot.Captions = append(slot.Captions, rc)

	if e.metrics != nil {
		e.metrics.IncCaptionsReceived()
	}
	e.log.Debug("caption accepted",
		slog.Int("slot", slot.Index),
		slog.String("subtitler", sub.Name),
		slog.Bool("auto_sent", autoSent),
		slog.Int("chars", len(text)),
	)

	e.out.ToAdmins(protocol.RawCaption{
		Type: protocol.TypeRawCaption,
		Caption: protocol.RawCaptionRecord{
			Text:           rc.Text,
			VideoTimestamp: rc.VideoTimestamp,
			ReceivedAt:     rc.ReceivedAt.UnixMilli(),
			AutoSent:       rc.AutoSent,
			SubtitlerName:  sub.Name,
		},
		SlotIndex: slot.Index,
	})
	e.out.ToSubtitlersExcept(connID, protocol.CaptionEcho{
		Type:          protocol.TypeCaption,
		Caption:       rc.Text,
		SubtitlerName: sub.Name,
	})
	return nil
}

// lastSlotOfLocked returns the subtitler's most recent slot, if any.
func (e *Engine) lastSlotOfLocked(subtitlerID string) *Slot {
	for i := len(e.slots) - 1; i >= 0; i-- {
		if e.slots[i].SubtitlerID == subtitlerID {
			return e.slots[i]
		}
	}
	return nil
}

func (e *Engine) rejectLocked(connID, reason string) {
	if e.metrics != nil {
		e.metrics.IncCaptionsRejected()
	}
	e.log.Debug("caption rejected",
		slog.String("conn_id", connID),
		slog.String("reason", reason),
	)
}

func truncateCaption(s string) string {
	if len(s) <= maxCaptionLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxCaptionLen {
		return s
	}
	return string(runes[:maxCaptionLen])
}
