package layout

// 该文件定义分段排版的输入与输出类型，供预览排版、导出渲染与调试 JSON 共用。

// Segment 是一段具有统一粗细标记的文本。
type Segment struct {
	Text string `json:"text"`
	Bold bool   `json:"bold"`
}

// Align 表示文本块的水平对齐方式。
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Transform 表示文本大小写变换。
type Transform string

const (
	TransformNone      Transform = "none"
	TransformUppercase Transform = "uppercase"
	TransformLowercase Transform = "lowercase"
)

// Options 描述一次排版的盒子约束与字体参数，宽度与字号单位均为画布像素。
type Options struct {
	MaxWidth      float64 `json:"maxWidth"`
	FontSize      float64 `json:"fontSize"`
	BaseWeight    int     `json:"baseWeight"`
	LineHeight    float64 `json:"lineHeight"` // 行高倍数
	LetterSpacing float64 `json:"letterSpacing"`
	WordSpacing   float64 `json:"wordSpacing"`
	Align         Align   `json:"align"`
}

// Word 是排好位置的单词，X 相对于行左边缘（已包含对齐偏移）。
type Word struct {
	Text   string  `json:"text"`
	Bold   bool    `json:"bold"`
	Weight int     `json:"weight"`
	X      float64 `json:"x"`
	Width  float64 `json:"width"`
}

// Line 是排版后的一行，Y = 行号 × 字号 × 行高。
type Line struct {
	Words []Word  `json:"words"`
	Width float64 `json:"width"`
	Y     float64 `json:"y"`
}

// Text 返回该行拼接后的文本。
func (l Line) Text() string {
	n := 0
	for _, w := range l.Words {
		n += len(w.Text)
	}
	buf := make([]byte, 0, n)
	for _, w := range l.Words {
		buf = append(buf, w.Text...)
	}
	return string(buf)
}

// Bounds 返回所有行中文字占据的水平范围与总高度。
func Bounds(lines []Line, opts Options) (minX, maxX, height float64) {
	first := true
	for _, ln := range lines {
		if len(ln.Words) == 0 {
			continue
		}
		left := ln.Words[0].X
		right := left + ln.Width
		if first || left < minX {
			minX = left
		}
		if first || right > maxX {
			maxX = right
		}
		first = false
	}
	height = float64(len(lines)) * opts.FontSize * lineHeightOrDefault(opts.LineHeight)
	return minX, maxX, height
}

// Runs 把同一行内相邻且字重相同的词合并成连续片段，绘制时可以整段输出以保留字距调整。
func (l Line) Runs() []Word {
	var out []Word
	for _, w := range l.Words {
		if n := len(out); n > 0 && out[n-1].Weight == w.Weight && out[n-1].Bold == w.Bold {
			out[n-1].Text += w.Text
			out[n-1].Width = w.X + w.Width - out[n-1].X
			continue
		}
		out = append(out, w)
	}
	return out
}
