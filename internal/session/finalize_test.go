package session

import (
	"testing"
	"time"

	"live-subtitler/internal/protocol"
)

func (o *fakeOut) fusedRecords() []protocol.FusedCaption {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []protocol.FusedCaption
	for _, m := range o.admins {
		if f, ok := m.(protocol.FusedCaption); ok {
			out = append(out, f)
		}
	}
	return out
}

// Scenario: D=10, O=4, g=0, R=3. Slot 0 text ends with the words slot 1
// starts with; fusion removes the repeat from slot 1.
func TestFinalize_fusion_happy_path(t *testing.T) {
	e, out, clk := startedEngine(t, testConfig(), "s1", "s2", "s3")

	_ = e.SubmitCaption("s1", "Les grandes villes sont Marseille,", false)

	clk.Advance(6 * time.Second)
	e.startNextSlotLocked()
	_ = e.SubmitCaption("s2", "sont Marseille, Nice et Toulon", false)

	clk.Advance(6 * time.Second)
	e.startNextSlotLocked()

	// Slot 0 finalizes first and emits itself in full.
	e.finalizeLocked(0)
	if !e.slots[0].Sent {
		t.Fatal("slot 0 must be sent after its finalize")
	}
	if got := e.slots[0].FinalText; got != "Les grandes villes sont Marseille," {
		t.Errorf("slot 0 finalText = %q", got)
	}

	// Slot 1's finalize stores the overlap; slot 0 is already sent.
	e.finalizeLocked(1)
	if got := e.slots[1].OverlapFromPrev; got != 3 {
		t.Errorf("slot 1 overlapFromPrev = %d, want 3", got)
	}
	if e.slots[1].Sent {
		t.Error("slot 1 must not be sent before slot 2's finalize")
	}

	// Slot 2's finalize emits slot 1 with the overlap dropped.
	e.finalizeLocked(2)
	if !e.slots[1].Sent {
		t.Fatal("slot 1 must be sent after slot 2's finalize")
	}
	if got := e.slots[1].FinalText; got != "Nice et Toulon" {
		t.Errorf("slot 1 finalText = %q, want %q", got, "Nice et Toulon")
	}

	fused := out.fusedRecords()
	if len(fused) != 2 {
		t.Fatalf("fused records = %d, want 2", len(fused))
	}
	if fused[0].OverlapCount != 0 || fused[0].Caption.SlotIndex != 0 {
		t.Errorf("first fused record: %+v", fused[0])
	}
	if fused[1].OverlapCount != 3 || fused[1].Caption.SlotIndex != 1 {
		t.Errorf("second fused record: %+v", fused[1])
	}
}

// Scenario: single subtitler, no overlap, no grace: the first slot emits
// immediately at its own finalize.
func TestFinalize_first_slot_emits_immediately(t *testing.T) {
	cfg := Config{
		SegmentDuration:    2,
		DelaySec:           6,
		MaxDelaySec:        300,
		SlotDuration:       6,
		OverlapDuration:    0,
		GracePercent:       0,
		RequiredSubtitlers: 1,
	}
	e, out, _ := startedEngine(t, cfg, "s1")

	_ = e.SubmitCaption("s1", "Bonjour.", false)
	e.finalizeLocked(0)

	slot := e.slots[0]
	if !slot.Sent || slot.FinalText != "Bonjour." {
		t.Errorf("slot 0: sent=%v finalText=%q", slot.Sent, slot.FinalText)
	}
	if slot.OverlapFromPrev != 0 {
		t.Errorf("slot 0 overlapFromPrev = %d, want 0", slot.OverlapFromPrev)
	}
	fused := out.fusedRecords()
	if len(fused) != 1 || fused[0].Caption.Text != "Bonjour." {
		t.Errorf("fused records: %+v", fused)
	}
}

func TestFinalize_empty_first_slot_marks_sent(t *testing.T) {
	e, out, _ := startedEngine(t, testConfig(), "s1", "s2", "s3")

	e.finalizeLocked(0)
	slot := e.slots[0]
	if !slot.Sent || slot.FinalText != "" {
		t.Errorf("empty slot 0: sent=%v finalText=%q", slot.Sent, slot.FinalText)
	}
	if len(out.fusedRecords()) != 0 {
		t.Error("empty slot must not emit a fused record")
	}
}

func TestFinalize_empty_previous_slot(t *testing.T) {
	e, _, clk := startedEngine(t, testConfig(), "s1", "s2", "s3")

	// Slot 0 stays empty but is NOT finalized on its own here, so it is
	// still unsent when slot 1 finalizes.
	clk.Advance(6 * time.Second)
	e.startNextSlotLocked()
	_ = e.SubmitCaption("s2", "du texte", false)

	e.finalizeLocked(1)
	slot0 := e.slots[0]
	if !slot0.Sent || slot0.FinalText != "" {
		t.Errorf("empty prev: sent=%v finalText=%q", slot0.Sent, slot0.FinalText)
	}
}

func TestFinalize_full_transcript_has_no_repeats(t *testing.T) {
	e, _, clk := startedEngine(t, testConfig(), "s1", "s2", "s3")

	texts := []string{
		"il fait beau ce matin sur",
		"ce matin sur la côte et",
		"la côte et le vent se lève",
	}
	_ = e.SubmitCaption("s1", texts[0], false)
	clk.Advance(6 * time.Second)
	e.startNextSlotLocked()
	_ = e.SubmitCaption("s2", texts[1], false)
	clk.Advance(6 * time.Second)
	e.startNextSlotLocked()
	_ = e.SubmitCaption("s3", texts[2], false)

	e.finalizeLocked(0)
	e.finalizeLocked(1)
	e.finalizeLocked(2)
	e.StopFragment()

	transcript := ""
	for _, s := range e.slots {
		if s.FinalText != "" {
			if transcript != "" {
				transcript += " "
			}
			transcript += s.FinalText
		}
	}
	want := "il fait beau ce matin sur la côte et le vent se lève"
	if transcript != want {
		t.Errorf("transcript = %q, want %q", transcript, want)
	}
}

func TestStopFragment_flushes_unsent_slots(t *testing.T) {
	e, out, _ := startedEngine(t, testConfig(), "s1", "s2", "s3")

	_ = e.SubmitCaption("s1", "texte jamais finalisé", false)
	if err := e.StopFragment(); err != nil {
		t.Fatalf("StopFragment: %v", err)
	}

	slot := e.slots[0]
	if !slot.Sent || slot.FinalText != "texte jamais finalisé" {
		t.Errorf("flush: sent=%v finalText=%q", slot.Sent, slot.FinalText)
	}
	words := out.words()
	if len(words) != 3 {
		t.Fatalf("flushed words = %d, want 3", len(words))
	}
	for k, w := range words {
		if w.WordIndex != k {
			t.Errorf("word %d has index %d", k, w.WordIndex)
		}
	}
	if !words[len(words)-1].IsLast {
		t.Error("last flushed word must carry isLast")
	}

	out.mu.Lock()
	stopped := false
	for _, m := range out.all {
		if ev, ok := m.(protocol.Event); ok && ev.Type == protocol.TypeFragmentStopped {
			stopped = true
		}
	}
	out.mu.Unlock()
	if !stopped {
		t.Error("expected fragment:stopped broadcast")
	}
}

func TestStopFragment_flush_applies_assigned_overlap(t *testing.T) {
	e, _, clk := startedEngine(t, testConfig(), "s1", "s2", "s3")

	_ = e.SubmitCaption("s1", "Les grandes villes sont Marseille,", false)
	clk.Advance(6 * time.Second)
	e.startNextSlotLocked()
	_ = e.SubmitCaption("s2", "sont Marseille, Nice et Toulon", false)

	e.finalizeLocked(0)
	e.finalizeLocked(1) // assigns overlap 3 to slot 1, does not emit it
	if err := e.StopFragment(); err != nil {
		t.Fatalf("StopFragment: %v", err)
	}

	if got := e.slots[1].FinalText; got != "Nice et Toulon" {
		t.Errorf("flushed slot 1 = %q, want overlap dropped", got)
	}
}
