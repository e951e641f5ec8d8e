package layout

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultLineHeight = 1.2
	// 宽度比较的容差，避免浮点误差把恰好等宽的词挤到下一行。
	fitEpsilon = 1e-6
)

// 非空白串加其后的空白；行首的纯空白单独成词，保证拼接后文本不丢失。
var wordPattern = regexp.MustCompile(`\S+\s*|\s+`)

// BoldWeight 返回加粗片段使用的字重：基础字重已 ≥700 时取 800，否则取 700。
func BoldWeight(base int) int {
	if base >= 700 {
		return 800
	}
	return 700
}

// WordWeight 返回词的实际字重。
func WordWeight(base int, bold bool) int {
	if base <= 0 {
		base = 400
	}
	if bold {
		return BoldWeight(base)
	}
	return base
}

// Tokenize 按“非空白串 + 尾随空白”切词。
func Tokenize(run string) []string {
	if run == "" {
		return nil
	}
	return wordPattern.FindAllString(run, -1)
}

// ApplyTransform 返回经过大小写变换后的片段副本。
func ApplyTransform(segs []Segment, t Transform) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		switch t {
		case TransformUppercase:
			s.Text = strings.ToUpper(s.Text)
		case TransformLowercase:
			s.Text = strings.ToLower(s.Text)
		}
		out[i] = s
	}
	return out
}

// WordWidth 在原始前进宽度上叠加字间距与词间距：每个非末尾字符贡献一次字间距，每个空白字符贡献一次词间距。
func WordWidth(advance float64, text string, letterSpacing, wordSpacing float64) float64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	w := advance + float64(n-1)*letterSpacing
	if wordSpacing != 0 {
		for _, r := range text {
			if unicode.IsSpace(r) {
				w += wordSpacing
			}
		}
	}
	return w
}

// AlignShift 返回一行在给定对齐方式下的水平偏移。
func AlignShift(align Align, maxWidth, lineWidth float64) float64 {
	if maxWidth <= 0 || math.IsInf(maxWidth, 1) {
		return 0
	}
	switch align {
	case AlignCenter:
		return (maxWidth - lineWidth) / 2
	case AlignRight:
		return maxWidth - lineWidth
	default:
		return 0
	}
}

func lineHeightOrDefault(v float64) float64 {
	if v <= 0 {
		return defaultLineHeight
	}
	return v
}

// Wrap 是两个排版实现共享的贪心换行核心：
//  1. 片段中的 \n 强制换行；
//  2. 每段按 Tokenize 切词；
//  3. running + w ≤ maxWidth 时词留在当前行，否则在当前行已有内容时另起一行；
//  4. 超宽的单词独占一行，不在词内拆分；
//  5. 全部行生成后再按对齐方式平移每个词的 X。
func Wrap(segs []Segment, opts Options, m Measurer) ([]Line, error) {
	if m == nil {
		return nil, fmt.Errorf("layout: 缺少测量后端 Measurer")
	}
	limit := opts.MaxWidth
	if limit <= 0 {
		limit = math.Inf(1)
	}

	total := 0
	for _, s := range segs {
		total += len(s.Text)
	}
	if total == 0 {
		return []Line{}, nil
	}

	measure := func(text string, weight int) (float64, error) {
		adv, err := m.Advance(text, weight, opts.FontSize)
		if err != nil {
			return 0, err
		}
		return WordWidth(adv, text, opts.LetterSpacing, opts.WordSpacing), nil
	}

	var lines []Line
	var cur Line
	running := 0.0
	visible := 0.0 // 当前行去掉末尾空白后的宽度

	flush := func() {
		cur.Width = visible
		lines = append(lines, cur)
		cur = Line{}
		running = 0
		visible = 0
	}

	for _, seg := range segs {
		weight := WordWeight(opts.BaseWeight, seg.Bold)
		text := strings.ReplaceAll(seg.Text, "\r", "")
		parts := strings.Split(text, "\n")
		for pi, part := range parts {
			if pi > 0 {
				flush()
			}
			for _, token := range Tokenize(part) {
				w, err := measure(token, weight)
				if err != nil {
					return nil, err
				}
				if len(cur.Words) > 0 && running+w > limit+fitEpsilon {
					flush()
				}
				trimmed := strings.TrimRightFunc(token, unicode.IsSpace)
				tw := w
				if trimmed != token {
					if trimmed == "" {
						tw = 0
					} else if tw, err = measure(trimmed, weight); err != nil {
						return nil, err
					}
				}
				cur.Words = append(cur.Words, Word{
					Text:   token,
					Bold:   seg.Bold,
					Weight: weight,
					X:      running,
					Width:  w,
				})
				if trimmed != "" {
					visible = running + tw
				}
				running += w
			}
		}
	}
	flush()

	step := opts.FontSize * lineHeightOrDefault(opts.LineHeight)
	for i := range lines {
		lines[i].Y = float64(i) * step
		shift := AlignShift(opts.Align, opts.MaxWidth, lines[i].Width)
		if shift == 0 {
			continue
		}
		for j := range lines[i].Words {
			lines[i].Words[j].X += shift
		}
	}
	return lines, nil
}

// BreakIndices 返回每一行第一个词在全部词序列中的下标，用于比较两个实现的换行决策。
func BreakIndices(lines []Line) []int {
	out := make([]int, 0, len(lines))
	idx := 0
	for _, ln := range lines {
		out = append(out, idx)
		idx += len(ln.Words)
	}
	return out
}
