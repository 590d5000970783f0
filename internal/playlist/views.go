package playlist

import (
	"io/fs"
	"os"
)

// DefaultWindowSize is the number of segments kept in a derived view.
const DefaultWindowSize = 6

// Builder derives live and delayed playlist views from the upstream file.
// It never mutates the file; every view re-reads it (reads are small).
type Builder struct {
	path       string
	windowSize int
}

// NewBuilder returns a Builder for the upstream playlist at path, keeping
// at most windowSize segments per view. If windowSize <= 0,
// DefaultWindowSize is used.
func NewBuilder(path string, windowSize int) *Builder {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Builder{path: path, windowSize: windowSize}
}

// Live returns the live-edge view: the last min(windowSize, total)
// segments, with the media sequence advanced by the number of segments
// dropped from the front.
func (b *Builder) Live() (string, error) {
	m, err := b.load()
	if err != nil {
		return "", err
	}

	total := len(m.Segments)
	kept := total
	if kept > b.windowSize {
		kept = b.windowSize
	}
	window := m.Segments[total-kept:]
	seq := m.MediaSequence + int64(total-kept)

	return Render(m.TargetDuration, seq, window, m.Ended), nil
}

// Delayed returns the spectator view shifted backward by
// floor(delaySec / targetDuration) segments. It fails with
// ErrNotEnoughSegments while the stream is younger than the delay.
func (b *Builder) Delayed(delaySec int) (string, error) {
	m, err := b.load()
	if err != nil {
		return "", err
	}

	total := len(m.Segments)
	delaySegs := delaySec / m.TargetDuration
	endIdx := total - delaySegs
	if endIdx <= 0 {
		return "", ErrNotEnoughSegments
	}

	start := endIdx - b.windowSize
	if start < 0 {
		start = 0
	}
	window := m.Segments[start:endIdx]
	seq := m.MediaSequence + int64(start)
	ended := m.Ended && endIdx == total

	return Render(m.TargetDuration, seq, window, ended), nil
}

// Status reports whether the upstream manifest exists and how many
// segments it currently lists.
func (b *Builder) Status() (hasManifest bool, segmentCount int) {
	m, err := b.load()
	if err != nil {
		return false, 0
	}
	return true, len(m.Segments)
}

func (b *Builder) load() (*Manifest, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, ErrNoManifest
		}
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
