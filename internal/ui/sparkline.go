package ui

import "strings"

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps the last N throughput samples (items per second) and
// draws them as a row of block characters scaled to the largest sample.
type Sparkline struct {
	buf  []float64
	next int
	n    int
}

// NewSparkline creates a sparkline holding capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{buf: make([]float64, capacity)}
}

// Add records a sample, overwriting the oldest once full.
func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.buf[s.next] = v
	s.next = (s.next + 1) % len(s.buf)
	if s.n < len(s.buf) {
		s.n++
	}
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	clear(s.buf)
	s.next, s.n = 0, 0
}

// Count returns the number of samples held.
func (s *Sparkline) Count() int { return s.n }

// recent returns up to width samples, oldest first.
func (s *Sparkline) recent(width int) []float64 {
	k := min(width, s.n)
	out := make([]float64, k)
	for i := range k {
		out[i] = s.buf[(s.next-k+i+len(s.buf))%len(s.buf)]
	}
	return out
}

// Render draws the newest samples left-padded with spaces to width. A width
// of zero or less uses the capacity.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.buf)
	}
	samples := s.recent(width)
	peak := 1.0
	for _, v := range samples {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(samples)))
	top := len(sparkLevels) - 1
	for _, v := range samples {
		sb.WriteRune(sparkLevels[min(int(v/peak*float64(top)), top)])
	}
	return sb.String()
}
