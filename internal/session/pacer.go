package session

import (
	"strings"
	"time"

	"live-subtitler/internal/protocol"
)

// emitSlotLocked hands a finalized slot to the delivery pacer: the final
// text splits into words spread evenly across the slot duration, aligned
// to slot.StartAt + delay. When immediate is true (stop-time catch-up)
// every word goes out right away, in order.
func (e *Engine) emitSlotLocked(slot *Slot, immediate bool) {
	words := strings.Fields(slot.FinalText)
	if len(words) == 0 {
		return
	}

	captionID := newCaptionID()
	e.recordFusedLocked(slot, captionID)

	offsets := wordOffsets(len(words), e.cfg.SlotDuration)
	slotDurationMs := int64(e.cfg.SlotDuration) * 1000

	var delay time.Duration
	if !immediate {
		base := slot.StartAt.Add(time.Duration(e.cfg.DelaySec) * time.Second)
		delay = base.Sub(e.timers.Now())
		if delay < 0 {
			delay = 0
		}
	}

	for k, w := range words {
		msg := protocol.Word{
			Type:           protocol.TypeCaptionWord,
			ID:             captionID,
			Word:           w,
			WordIndex:      k,
			TotalWords:     len(words),
			IsLast:         k == len(words)-1,
			VideoTimestamp: slot.StartVideoOffsetMs,
			SlotIndex:      slot.Index,
			SubtitlerName:  slot.SubtitlerName,
			SlotDurationMs: slotDurationMs,
		}
		if immediate {
			e.out.ToSpectators(msg)
			continue
		}
		e.timers.Schedule(groupPacer, delay+offsets[k], func() {
			e.out.ToSpectators(msg)
		})
	}
	if e.metrics != nil {
		e.metrics.AddWordsEmitted(len(words))
	}
}

// wordOffsets spreads wordCount emissions evenly across the slot duration:
// word k fires at k * floor(D*1000/wordCount) milliseconds.
func wordOffsets(wordCount, slotDurationSec int) []time.Duration {
	intervalMs := int64(slotDurationSec) * 1000 / int64(wordCount)
	out := make([]time.Duration, wordCount)
	for k := range out {
		out[k] = time.Duration(int64(k)*intervalMs) * time.Millisecond
	}
	return out
}
