package document

import (
	"math"
	"strings"

	"github.com/ByLCY/carousel/binding"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/markup"
)

// 外部识别出的文本区域是不可信输入：每个字段单独取默认值并限幅，而不是整体拒绝。
type clampRange struct {
	min, max, def float64
}

func (c clampRange) apply(v float64, ok bool) float64 {
	if !ok {
		return c.def
	}
	return math.Max(c.min, math.Min(c.max, v))
}

var (
	regionX             = clampRange{0, 100, 10}
	regionY             = clampRange{0, 100, 10}
	regionWidth         = clampRange{5, 100, 80}
	regionFontSize      = clampRange{8, 200, 48}
	regionFontWeight    = clampRange{100, 900, 700}
	regionLineHeight    = clampRange{0.8, 3, 1.2}
	regionLetterSpacing = clampRange{-20, 50, 0}
	regionWordSpacing   = clampRange{-20, 100, 0}
	regionStrokeWidth   = clampRange{0, 20, 2}
	regionShadowBlur    = clampRange{0, 50, 8}
	regionShadowOffset  = clampRange{-50, 50, 2}
)

const defaultRegionColor = "#FFFFFF"

// SanitizeTextRegion 把一条外部文本区域转换为文本块。文本为空时 ok 为 false。
// 文本里的 **加粗** 标记会被解析为片段。
func SanitizeTextRegion(raw map[string]any) (TextBlock, bool) {
	text, _ := binding.String(raw, "text", "content")
	text = strings.TrimSpace(text)
	if text == "" {
		return TextBlock{}, false
	}

	tb := TextBlock{
		ID:            NewID(),
		X:             regionX.apply(binding.Float(raw, "x", "position.x")),
		Y:             regionY.apply(binding.Float(raw, "y", "position.y")),
		Width:         regionWidth.apply(binding.Float(raw, "width", "size.width")),
		FontSize:      regionFontSize.apply(binding.Float(raw, "fontSize", "style.fontSize")),
		LineHeight:    regionLineHeight.apply(binding.Float(raw, "lineHeight", "style.lineHeight")),
		LetterSpacing: regionLetterSpacing.apply(binding.Float(raw, "letterSpacing", "style.letterSpacing")),
		WordSpacing:   regionWordSpacing.apply(binding.Float(raw, "wordSpacing", "style.wordSpacing")),
		Align:         sanitizeAlign(raw),
		Transform:     sanitizeTransform(raw),
		Color:         sanitizeColor(raw, defaultRegionColor, "color", "style.color"),
	}
	weight := regionFontWeight.apply(binding.Float(raw, "fontWeight", "style.fontWeight"))
	tb.FontWeight = int(math.Round(weight/100) * 100)

	segs := markup.Parse(text)
	tb.Text = markup.PlainText(segs)
	if Mixed(segs) {
		tb.Segments = segs
	} else if len(segs) == 1 && segs[0].Bold {
		tb.Segments = segs
	}

	if stroke, ok := binding.Map(raw, "stroke"); ok {
		tb.Stroke = &Stroke{
			Color: sanitizeColor(stroke, "#000000", "color"),
			Width: regionStrokeWidth.apply(binding.Float(stroke, "width")),
		}
	}
	if shadow, ok := binding.Map(raw, "shadow"); ok {
		tb.Shadow = &Shadow{
			Color:   sanitizeColor(shadow, "#00000080", "color"),
			Blur:    regionShadowBlur.apply(binding.Float(shadow, "blur")),
			OffsetX: regionShadowOffset.apply(binding.Float(shadow, "offsetX", "x")),
			OffsetY: regionShadowOffset.apply(binding.Float(shadow, "offsetY", "y")),
		}
	}
	return tb, true
}

// SanitizeTextRegions 逐条处理区域列表，跳过无法使用的条目。
func SanitizeTextRegions(regions []map[string]any) []TextBlock {
	out := make([]TextBlock, 0, len(regions))
	for _, r := range regions {
		if tb, ok := SanitizeTextRegion(r); ok {
			out = append(out, tb)
		}
	}
	return out
}

func sanitizeAlign(raw map[string]any) layout.Align {
	v, _ := binding.String(raw, "align", "textAlign", "style.align")
	switch layout.Align(strings.ToLower(strings.TrimSpace(v))) {
	case layout.AlignLeft:
		return layout.AlignLeft
	case layout.AlignRight:
		return layout.AlignRight
	default:
		return layout.AlignCenter
	}
}

func sanitizeTransform(raw map[string]any) layout.Transform {
	v, _ := binding.String(raw, "transform", "textTransform", "style.transform")
	switch layout.Transform(strings.ToLower(strings.TrimSpace(v))) {
	case layout.TransformUppercase:
		return layout.TransformUppercase
	case layout.TransformLowercase:
		return layout.TransformLowercase
	default:
		return layout.TransformNone
	}
}

func sanitizeColor(raw map[string]any, def string, paths ...string) string {
	v, ok := binding.String(raw, paths...)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if _, err := ParseColor(v); err != nil {
		return def
	}
	return v
}
