package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Bar is a horizontal ratio bar
type Bar struct {
	width int
	ratio float64
	style lipgloss.Style
}

// NewBar creates a bar drawn with style
func NewBar(width int, style lipgloss.Style) *Bar {
	return &Bar{
		width: width,
		style: style,
	}
}

// SetRatio sets the filled ratio (0.0 to 1.0)
func (b *Bar) SetRatio(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	b.ratio = ratio
}

// SetWidth sets the bar width
func (b *Bar) SetWidth(width int) {
	b.width = width
}

// Render renders the bar
func (b *Bar) Render() string {
	width := b.width
	if width < 5 {
		width = 5
	}

	filled := int(float64(width)*b.ratio + 0.5)
	if b.ratio > 0 && filled == 0 {
		filled = 1
	}

	return b.style.Render(strings.Repeat("█", filled)) +
		BarEmptyStyle.Render(strings.Repeat("░", width-filled))
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as a row of block characters scaled to the
// largest value. All-zero input renders the lowest block.
func Sparkline(values []int) string {
	max := 0
	for _, v := range values {
		if v > max {
			max = v
		}
	}

	var b strings.Builder
	for _, v := range values {
		idx := 0
		if max > 0 && v > 0 {
			idx = v * (len(sparkBlocks) - 1) / max
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return SparklineStyle.Render(b.String())
}

// Spinner shows activity while a channel is connecting
type Spinner struct {
	frame   int
	running bool
}

// NewSpinner creates a stopped spinner
func NewSpinner() *Spinner {
	return &Spinner{}
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.running = true
}

// Stop stops the spinner
func (s *Spinner) Stop() {
	s.running = false
}

// Tick advances the spinner animation
func (s *Spinner) Tick() {
	if s.running {
		s.frame = (s.frame + 1) % len(SpinnerChars)
	}
}

// Render renders the spinner frame, or nothing when stopped
func (s *Spinner) Render() string {
	if !s.running {
		return ""
	}
	return InfoStyle.Render(SpinnerChars[s.frame])
}

// percent formats part of total
func percent(part, total int) string {
	if total == 0 {
		return "  0%"
	}
	return fmt.Sprintf("%3.0f%%", float64(part)/float64(total)*100)
}
