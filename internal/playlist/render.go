package playlist

import (
	"fmt"
	"math"
	"strings"
)

// Render converts a window of segments into a playlist document. An empty
// window produces a minimal valid playlist. If ended is true,
// #EXT-X-ENDLIST is appended.
func Render(targetDuration int, mediaSequence int64, segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if targetDuration <= 0 {
		targetDuration = targetDurationFromSegments(segments)
	}

	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n\n", mediaSequence))

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,\n", seg.Duration))
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// targetDurationFromSegments returns the ceiling of the maximum segment
// duration, with a floor of 1.
func targetDurationFromSegments(segments []Segment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
