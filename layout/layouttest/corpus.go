// Package layouttest holds the conformance corpus every layout.Typesetter must pass,
// and a checker that compares two implementations against it.
package layouttest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ByLCY/carousel/layout"
)

// Case is one corpus entry. Widths are candidate box widths in pixels.
type Case struct {
	Name   string
	Segs   []layout.Segment
	Opts   layout.Options
	Widths []float64
}

// minMargin keeps checked widths away from wrap boundaries, so sub-pixel measurement
// differences between implementations cannot flip a decision.
const (
	minMargin   = 1.5
	nudgeStep   = 3.0
	maxAttempts = 40
)

// Corpus returns the shared conformance cases.
func Corpus() []Case {
	base := layout.Options{FontSize: 48, BaseWeight: 400, LineHeight: 1.2, Align: layout.AlignLeft}
	bold := base
	bold.BaseWeight = 700
	spaced := base
	spaced.LetterSpacing = 2
	spaced.WordSpacing = 4

	return []Case{
		{
			Name:   "ascii",
			Segs:   []layout.Segment{{Text: "The quick brown fox jumps over the lazy dog and keeps running through the field"}},
			Opts:   base,
			Widths: []float64{300, 520, 800},
		},
		{
			Name: "mixed-bold",
			Segs: []layout.Segment{
				{Text: "Save this for "},
				{Text: "later", Bold: true},
				{Text: " and share it with a friend who needs it"},
			},
			Opts:   base,
			Widths: []float64{280, 460, 900},
		},
		{
			Name: "mixed-bold-heavy-base",
			Segs: []layout.Segment{
				{Text: "Three habits that "},
				{Text: "actually stick", Bold: true},
				{Text: " after thirty days"},
			},
			Opts:   bold,
			Widths: []float64{350, 640},
		},
		{
			Name:   "long-unbreakable",
			Segs:   []layout.Segment{{Text: "Supercalifragilisticexpialidocious antidisestablishmentarianism is long"}},
			Opts:   base,
			Widths: []float64{200, 400},
		},
		{
			Name:   "explicit-newlines",
			Segs:   []layout.Segment{{Text: "First line\nSecond line is a bit longer than the first\n\nAfter a blank"}},
			Opts:   base,
			Widths: []float64{420, 1000},
		},
		{
			Name: "spacing",
			Segs: []layout.Segment{
				{Text: "STOP ", Bold: true},
				{Text: "scrolling and read this one tip"},
			},
			Opts:   spaced,
			Widths: []float64{330, 610},
		},
	}
}

// Check runs the corpus against a single implementation and asserts the basic laws:
// determinism and that only single oversize words exceed the box.
func Check(t *testing.T, ts layout.Typesetter) {
	t.Helper()
	for _, c := range Corpus() {
		for _, w := range c.Widths {
			opts := c.Opts
			opts.MaxWidth = w
			first, err := ts.LayoutSegments(c.Segs, opts)
			require.NoError(t, err, c.Name)
			second, err := ts.LayoutSegments(c.Segs, opts)
			require.NoError(t, err, c.Name)
			require.Equal(t, first, second, "%s@%g: layout must be deterministic", c.Name, w)
			for i, ln := range first {
				if len(ln.Words) > 1 {
					require.LessOrEqual(t, ln.Width, w+1e-6, "%s@%g line %d overflows", c.Name, w, i)
				}
			}
		}
	}
}

// Compare asserts that two implementations agree on line count and break indices for
// every corpus case. Each candidate width is nudged until the reference layout has no
// decision within minMargin pixels of the box edge.
func Compare(t *testing.T, ref, other layout.Typesetter) {
	t.Helper()
	for _, c := range Corpus() {
		for _, w := range c.Widths {
			opts := c.Opts
			opts.MaxWidth = w
			var refLines []layout.Line
			for attempt := 0; ; attempt++ {
				lines, err := ref.LayoutSegments(c.Segs, opts)
				require.NoError(t, err, c.Name)
				if margin(lines, opts.MaxWidth) >= minMargin || attempt >= maxAttempts {
					refLines = lines
					break
				}
				opts.MaxWidth += nudgeStep
			}
			otherLines, err := other.LayoutSegments(c.Segs, opts)
			require.NoError(t, err, c.Name)

			require.Equal(t, len(refLines), len(otherLines), "%s@%g: line count differs", c.Name, opts.MaxWidth)
			require.Equal(t, layout.BreakIndices(refLines), layout.BreakIndices(otherLines),
				"%s@%g: break indices differ", c.Name, opts.MaxWidth)
			for i := range refLines {
				require.Equal(t, refLines[i].Text(), otherLines[i].Text(), "%s line %d", c.Name, i)
			}
		}
	}
}

// margin returns the smallest distance between a wrap decision and the box edge for a
// left-aligned layout.
func margin(lines []layout.Line, maxWidth float64) float64 {
	best := math.Inf(1)
	for i, ln := range lines {
		for j, w := range ln.Words {
			end := w.X + w.Width
			if j > 0 {
				best = math.Min(best, math.Abs(maxWidth-end))
			}
			if j == len(ln.Words)-1 && i+1 < len(lines) && len(lines[i+1].Words) > 0 {
				next := lines[i+1].Words[0]
				best = math.Min(best, math.Abs(end+next.Width-maxWidth))
			}
		}
	}
	return best
}
