package session

import (
	"log/slog"

	"github.com/google/uuid"

	"live-subtitler/internal/fusion"
	"live-subtitler/internal/protocol"
)

// finalizeLocked runs after a slot's settle delay. Slot 0 emits itself;
// every later slot records its overlap with the previous slot (to be
// dropped from its own start when it is emitted) and emits the previous
// slot's final text with the previous slot's own recorded overlap removed.
func (e *Engine) finalizeLocked(i int) {
	slot := e.slotByIndex(i)
	if slot == nil {
		return
	}
	raw := slot.rawText()

	if i == 0 {
		if slot.Sent {
			return
		}
		slot.Sent = true
		if raw == "" {
			return
		}
		slot.FinalText = raw
		e.emitSlotLocked(slot, false)
		return
	}

	prev := e.slotByIndex(i - 1)
	if prev == nil {
		return
	}

	prevTokens := fusion.Tokenize(prev.rawText())
	overlapLen, _ := fusion.FindOverlap(prevTokens, fusion.Tokenize(raw))
	slot.OverlapFromPrev = overlapLen
	e.log.Debug("overlap computed",
		slog.Int("slot", i),
		slog.Int("overlap_tokens", overlapLen),
	)

	if prev.Sent {
		// Slot 0 already emitted itself at its own finalize; only the
		// overlap assignment above persists.
		return
	}
	if len(prevTokens) == 0 {
		prev.Sent = true
		return
	}

	words := prevTokens[prev.OverlapFromPrev:]
	prev.FinalText = fusion.Detokenize(words)
	prev.Sent = true
	e.emitSlotLocked(prev, false)
}

// sendRemainingSlotsLocked flushes unsent slots from oldest to newest on
// stop, applying any overlap already assigned. Emission is immediate,
// best-effort catch-up.
func (e *Engine) sendRemainingSlotsLocked() {
	for _, slot := range e.slots {
		if slot.Sent {
			continue
		}
		tokens := fusion.Tokenize(slot.rawText())
		slot.Sent = true
		if len(tokens) == 0 {
			continue
		}
		if slot.OverlapFromPrev > 0 && slot.OverlapFromPrev <= len(tokens) {
			tokens = tokens[slot.OverlapFromPrev:]
		}
		slot.FinalText = fusion.Detokenize(tokens)
		if slot.FinalText == "" {
			continue
		}
		e.emitSlotLocked(slot, true)
	}
}

// recordFusedLocked appends the fused-history record and notifies admins.
func (e *Engine) recordFusedLocked(slot *Slot, captionID string) {
	rec := protocol.FusedRecord{
		ID:             captionID,
		Text:           slot.FinalText,
		CreatedAt:      e.timers.Now().UnixMilli(),
		VideoTimestamp: slot.StartVideoOffsetMs,
		SlotIndex:      slot.Index,
		NextSlotIndex:  slot.Index + 1,
		OverlapCount:   slot.OverlapFromPrev,
	}
	e.fused = append(e.fused, rec)
	e.out.ToAdmins(protocol.FusedCaption{
		Type:         protocol.TypeFusedCaption,
		Caption:      rec,
		OverlapCount: rec.OverlapCount,
	})
	if e.metrics != nil {
		e.metrics.IncFusedCaptions()
	}
	e.log.Info("fused caption",
		slog.Int("slot", slot.Index),
		slog.Int("overlap", rec.OverlapCount),
		slog.String("text", slot.FinalText),
	)
}

func newCaptionID() string { return uuid.NewString() }
