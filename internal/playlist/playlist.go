// Package playlist reads the transcoder's segmented playlist from disk and
// derives the two views the server publishes: the live edge for subtitlers
// and a delayed window for spectators.
package playlist

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrNoManifest is returned when the upstream playlist file is absent
	// or not yet written.
	ErrNoManifest = errors.New("upstream playlist not available")

	// ErrNotEnoughSegments is returned by the delayed view when the
	// requested delay reaches past the start of the stream.
	ErrNotEnoughSegments = errors.New("not enough segments")
)

// Segment is one media segment entry of the upstream playlist.
type Segment struct {
	Duration float64
	URI      string
}

// Manifest is the parsed form of the upstream playlist document.
type Manifest struct {
	TargetDuration int
	MediaSequence  int64
	Segments       []Segment
	Ended          bool
}

// Parse reads a segmented playlist document. Unknown tags are ignored; an
// #EXTINF line adopts the next non-tag line as its segment URI.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{TargetDuration: 1}
	var pending *Segment

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")); err == nil && n > 0 {
				m.TargetDuration = n
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64); err == nil {
				m.MediaSequence = n
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			val := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ",")
			if i := strings.IndexByte(val, ','); i >= 0 {
				val = val[:i]
			}
			d, _ := strconv.ParseFloat(val, 64)
			pending = &Segment{Duration: d}
		case line == "#EXT-X-ENDLIST":
			m.Ended = true
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending != nil {
				pending.URI = line
				m.Segments = append(m.Segments, *pending)
				pending = nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
