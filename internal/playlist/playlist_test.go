package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:10

#EXTINF:2.0,
seg10.ts
#EXTINF:2.0,
seg11.ts
#EXTINF:2.0,
seg12.ts
#EXTINF:1.8,
seg13.ts
#EXTINF:2.0,
seg14.ts
`

func TestParse_reads_tags_and_segments(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.TargetDuration != 2 {
		t.Errorf("target duration = %d, want 2", m.TargetDuration)
	}
	if m.MediaSequence != 10 {
		t.Errorf("media sequence = %d, want 10", m.MediaSequence)
	}
	if len(m.Segments) != 5 {
		t.Fatalf("segments = %d, want 5", len(m.Segments))
	}
	if m.Segments[0].URI != "seg10.ts" || m.Segments[4].URI != "seg14.ts" {
		t.Errorf("unexpected segment order: %+v", m.Segments)
	}
	if m.Segments[3].Duration != 1.8 {
		t.Errorf("segment 3 duration = %v, want 1.8", m.Segments[3].Duration)
	}
	if m.Ended {
		t.Error("manifest without ENDLIST should not be ended")
	}
}

func TestParse_endlist(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest + "#EXT-X-ENDLIST\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.Ended {
		t.Error("expected ended manifest")
	}
}

func TestRender_empty_window(t *testing.T) {
	out := Render(0, 0, nil, false)
	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Error("expected #EXTM3U header")
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:1") {
		t.Error("expected target duration 1 for empty window")
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:0") {
		t.Error("expected media sequence 0")
	}
	if strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Error("should not contain ENDLIST")
	}
}

func TestRender_round_trips_through_parse(t *testing.T) {
	segs := []Segment{{Duration: 2.0, URI: "a.ts"}, {Duration: 2.5, URI: "b.ts"}}
	out := Render(3, 42, segs, true)

	m, err := Parse(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Parse(Render(...)): %v", err)
	}
	if m.TargetDuration != 3 || m.MediaSequence != 42 || len(m.Segments) != 2 || !m.Ended {
		t.Errorf("round trip mismatch: %+v", m)
	}
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.m3u8")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLive_window_and_sequence(t *testing.T) {
	b := NewBuilder(writeManifest(t, sampleManifest), 3)

	out, err := b.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	// 5 segments, window 3: keep seg12..seg14, sequence 10 + 2.
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:12") {
		t.Errorf("expected media sequence 12: %s", out)
	}
	if strings.Contains(out, "seg11.ts") || !strings.Contains(out, "seg12.ts") || !strings.Contains(out, "seg14.ts") {
		t.Errorf("wrong window: %s", out)
	}
}

func TestLive_fewer_segments_than_window(t *testing.T) {
	b := NewBuilder(writeManifest(t, sampleManifest), 10)

	out, err := b.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:10") {
		t.Errorf("expected untouched media sequence: %s", out)
	}
	if strings.Count(out, "#EXTINF") != 5 {
		t.Errorf("expected all 5 segments: %s", out)
	}
}

func TestDelayed_shifts_window_back(t *testing.T) {
	b := NewBuilder(writeManifest(t, sampleManifest), 2)

	// delay 4 s / target 2 s = 2 segments back: window ends at seg12.
	out, err := b.Delayed(4)
	if err != nil {
		t.Fatalf("Delayed: %v", err)
	}
	if !strings.Contains(out, "seg11.ts") || !strings.Contains(out, "seg12.ts") {
		t.Errorf("expected seg11+seg12: %s", out)
	}
	if strings.Contains(out, "seg13.ts") || strings.Contains(out, "seg14.ts") {
		t.Errorf("delayed view leaked live segments: %s", out)
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:11") {
		t.Errorf("expected media sequence 11: %s", out)
	}
}

func TestDelayed_not_enough_segments(t *testing.T) {
	// 3 segments of 2 s, delay 10 s -> 5 segments back: nothing to show.
	body := "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:2.0,\na.ts\n#EXTINF:2.0,\nb.ts\n#EXTINF:2.0,\nc.ts\n"
	b := NewBuilder(writeManifest(t, body), 6)

	if _, err := b.Delayed(10); err != ErrNotEnoughSegments {
		t.Errorf("expected ErrNotEnoughSegments, got %v", err)
	}

	// The live view is unaffected and shows everything.
	out, err := b.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:0") || strings.Count(out, "#EXTINF") != 3 {
		t.Errorf("live view corrupted: %s", out)
	}
}

func TestBuilder_missing_upstream(t *testing.T) {
	b := NewBuilder(filepath.Join(t.TempDir(), "absent.m3u8"), 6)

	if _, err := b.Live(); err != ErrNoManifest {
		t.Errorf("Live: expected ErrNoManifest, got %v", err)
	}
	if _, err := b.Delayed(10); err != ErrNoManifest {
		t.Errorf("Delayed: expected ErrNoManifest, got %v", err)
	}
	if has, n := b.Status(); has || n != 0 {
		t.Errorf("Status: expected no manifest, got has=%v n=%d", has, n)
	}
}

func TestStatus_counts_segments(t *testing.T) {
	b := NewBuilder(writeManifest(t, sampleManifest), 6)
	has, n := b.Status()
	if !has || n != 5 {
		t.Errorf("Status = (%v, %d), want (true, 5)", has, n)
	}
}
