package engine

import "slices"

// LoopDetector remembers the last emitted commands and reports a loop when
// the latest window repeats the window just before it.
type LoopDetector struct {
	history []string
	size    int
	window  int
	last    []string
}

// NewLoopDetector keeps up to size entries and compares windows of length
// window. size is raised to 2*window when smaller.
func NewLoopDetector(size, window int) *LoopDetector {
	if window < 1 {
		window = 1
	}
	size = max(size, 2*window)
	return &LoopDetector{history: make([]string, 0, size), size: size, window: window}
}

// Record appends name and reports whether a loop was detected. Detection
// clears the history.
func (d *LoopDetector) Record(name string) bool {
	if len(d.history) == d.size {
		copy(d.history, d.history[1:])
		d.history = d.history[:d.size-1]
	}
	d.history = append(d.history, name)

	n := len(d.history)
	if n < 2*d.window {
		return false
	}
	if slices.Equal(d.history[n-d.window:], d.history[n-2*d.window:n-d.window]) {
		d.last = slices.Clone(d.history[n-d.window:])
		d.history = d.history[:0]
		return true
	}
	return false
}

// Pattern returns the repeated window of the last detected loop.
func (d *LoopDetector) Pattern() []string { return slices.Clone(d.last) }

// Len returns the number of remembered entries.
func (d *LoopDetector) Len() int { return len(d.history) }
