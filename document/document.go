// Package document defines the carousel scene model: slides, text blocks, overlay
// images, groups and backgrounds, plus the persisted JSON format.
package document

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ByLCY/carousel/layout"
)

// CurrentVersion 是持久化格式的当前版本号。
const CurrentVersion = 3

// Document 是整个轮播文档。OriginalSlides 保存生成时的初始内容，供“重置幻灯片”使用。
type Document struct {
	Version        int     `json:"version"`
	AspectRatio    string  `json:"aspectRatio"`
	OutputFormat   string  `json:"outputFormat"`
	Slides         []Slide `json:"slides"`
	OriginalSlides []Slide `json:"originalSlides"`
}

// Slide 是轮播中的一页。
type Slide struct {
	ID               string      `json:"id"`
	Background       Background  `json:"background"`
	Tint             *Tint       `json:"tint"`
	TextBlocks       []TextBlock `json:"textBlocks"`
	Overlays         []Overlay   `json:"overlays"`
	Groups           []Group     `json:"groups"`
	BackgroundPrompt string      `json:"backgroundPrompt,omitempty"`
}

// BackgroundKind 表示背景最终生效的类型。
type BackgroundKind string

const (
	BackgroundNone  BackgroundKind = "none"
	BackgroundColor BackgroundKind = "color"
	BackgroundImage BackgroundKind = "image"
)

// Background 同时保存颜色和图片引用；两者都存在时颜色优先。
type Background struct {
	Color string `json:"color,omitempty"`
	Image string `json:"image,omitempty"`
}

// Kind 返回生效的背景类型。
func (b Background) Kind() BackgroundKind {
	switch {
	case b.Color != "":
		return BackgroundColor
	case b.Image != "":
		return BackgroundImage
	default:
		return BackgroundNone
	}
}

// Tint 是叠加在图片背景上的纯色层，纯色背景上不生效。
type Tint struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

// Stroke 是文字描边。
type Stroke struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Shadow 是文字投影。
type Shadow struct {
	Color   string  `json:"color"`
	Blur    float64 `json:"blur"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// Pill 是绘制在文字后面的圆角底板。
type Pill struct {
	Color       string  `json:"color"`
	Opacity     float64 `json:"opacity"`
	Padding     float64 `json:"padding"`
	Radius      float64 `json:"radius"`
	BorderColor string  `json:"borderColor,omitempty"`
	BorderWidth float64 `json:"borderWidth,omitempty"`
}

// TextBlock 是定位的富文本块。X、Y、Width 为画布百分比，高度由排版结果推导。
type TextBlock struct {
	ID            string           `json:"id"`
	X             float64          `json:"x"`
	Y             float64          `json:"y"`
	Width         float64          `json:"width"`
	Text          string           `json:"text"`
	Segments      []layout.Segment `json:"segments,omitempty"`
	FontSize      float64          `json:"fontSize"`
	FontWeight    int              `json:"fontWeight"`
	LineHeight    float64          `json:"lineHeight"`
	LetterSpacing float64          `json:"letterSpacing"`
	WordSpacing   float64          `json:"wordSpacing"`
	Align         layout.Align     `json:"align"`
	Transform     layout.Transform `json:"transform,omitempty"`
	Color         string           `json:"color"`
	Stroke        *Stroke          `json:"stroke,omitempty"`
	Shadow        *Shadow          `json:"shadow,omitempty"`
	Pill          *Pill            `json:"pill,omitempty"`
	ZIndex        int              `json:"zIndex"`
}

// Overlay 是定位的叠加图片，几何量均为画布百分比。
type Overlay struct {
	ID       string  `json:"id"`
	Src      string  `json:"src"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Radius   float64 `json:"radius"`
	Opacity  float64 `json:"opacity"`
	ZIndex   int     `json:"zIndex"`
}

// ElementKind 区分两种可定位元素。
type ElementKind string

const (
	KindText    ElementKind = "text"
	KindOverlay ElementKind = "overlay"
)

// ElementRef 引用幻灯片上的一个元素。
type ElementRef struct {
	Kind ElementKind `json:"kind"`
	ID   string      `json:"id"`
}

// Group 是一组在拖动时一起移动的元素。
type Group struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Members []ElementRef `json:"members"`
}

// NewID 生成元素、幻灯片与分组的 id。
func NewID() string { return uuid.NewString() }

// Mixed 判断片段是否同时包含加粗与非加粗文本。
func Mixed(segs []layout.Segment) bool {
	var bold, plain bool
	for _, s := range segs {
		if s.Text == "" {
			continue
		}
		if s.Bold {
			bold = true
		} else {
			plain = true
		}
	}
	return bold && plain
}

// EffectiveSegments 返回实际参与排版的片段。
// 只有混合粗细且拼接结果等于 Text 时才使用 Segments，否则退回整段纯文本，
// 整段加粗的片段列表退化为一个加粗片段。
func (b TextBlock) EffectiveSegments() []layout.Segment {
	if Mixed(b.Segments) && concat(b.Segments) == b.Text {
		out := make([]layout.Segment, len(b.Segments))
		copy(out, b.Segments)
		return out
	}
	bold := len(b.Segments) > 0
	for _, s := range b.Segments {
		if !s.Bold && s.Text != "" {
			bold = false
			break
		}
	}
	return []layout.Segment{{Text: b.Text, Bold: bold}}
}

func concat(segs []layout.Segment) string {
	n := 0
	for _, s := range segs {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for _, s := range segs {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// TextIndex 返回文本块下标，不存在时返回 -1。
func (s *Slide) TextIndex(id string) int {
	for i := range s.TextBlocks {
		if s.TextBlocks[i].ID == id {
			return i
		}
	}
	return -1
}

// OverlayIndex 返回叠加图片下标，不存在时返回 -1。
func (s *Slide) OverlayIndex(id string) int {
	for i := range s.Overlays {
		if s.Overlays[i].ID == id {
			return i
		}
	}
	return -1
}

// Find 按 id 查找元素，text 与 overlay 共用一个 id 空间。
func (s *Slide) Find(id string) (ElementRef, bool) {
	if s.TextIndex(id) >= 0 {
		return ElementRef{Kind: KindText, ID: id}, true
	}
	if s.OverlayIndex(id) >= 0 {
		return ElementRef{Kind: KindOverlay, ID: id}, true
	}
	return ElementRef{}, false
}

// Has 判断元素是否仍在幻灯片上。
func (s *Slide) Has(ref ElementRef) bool {
	switch ref.Kind {
	case KindText:
		return s.TextIndex(ref.ID) >= 0
	case KindOverlay:
		return s.OverlayIndex(ref.ID) >= 0
	}
	return false
}

// ZIndexOf 返回元素的 z 值。
func (s *Slide) ZIndexOf(ref ElementRef) (int, bool) {
	switch ref.Kind {
	case KindText:
		if i := s.TextIndex(ref.ID); i >= 0 {
			return s.TextBlocks[i].ZIndex, true
		}
	case KindOverlay:
		if i := s.OverlayIndex(ref.ID); i >= 0 {
			return s.Overlays[i].ZIndex, true
		}
	}
	return 0, false
}

// ZOrder 返回按 z 值升序排列的全部元素。z 值相同时文本在前，同类按插入顺序。
func (s *Slide) ZOrder() []ElementRef {
	type entry struct {
		ref ElementRef
		z   int
	}
	entries := make([]entry, 0, len(s.TextBlocks)+len(s.Overlays))
	for _, tb := range s.TextBlocks {
		entries = append(entries, entry{ElementRef{KindText, tb.ID}, tb.ZIndex})
	}
	for _, ov := range s.Overlays {
		entries = append(entries, entry{ElementRef{KindOverlay, ov.ID}, ov.ZIndex})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].z < entries[j].z })
	out := make([]ElementRef, len(entries))
	for i, e := range entries {
		out[i] = e.ref
	}
	return out
}

// ApplyZOrder 把 order 中的位置写回各元素的 ZIndex（0..n-1）。
func (s *Slide) ApplyZOrder(order []ElementRef) {
	for z, ref := range order {
		switch ref.Kind {
		case KindText:
			if i := s.TextIndex(ref.ID); i >= 0 {
				s.TextBlocks[i].ZIndex = z
			}
		case KindOverlay:
			if i := s.OverlayIndex(ref.ID); i >= 0 {
				s.Overlays[i].ZIndex = z
			}
		}
	}
}

// NextZIndex 返回比当前所有元素都高的 z 值。
func (s *Slide) NextZIndex() int {
	next := 0
	for _, tb := range s.TextBlocks {
		if tb.ZIndex >= next {
			next = tb.ZIndex + 1
		}
	}
	for _, ov := range s.Overlays {
		if ov.ZIndex >= next {
			next = ov.ZIndex + 1
		}
	}
	return next
}

// PruneGroups 删除已不存在的成员，并移除成员少于两个的分组。
func (s *Slide) PruneGroups() {
	kept := s.Groups[:0]
	for _, g := range s.Groups {
		members := make([]ElementRef, 0, len(g.Members))
		for _, m := range g.Members {
			if s.Has(m) {
				members = append(members, m)
			}
		}
		if len(members) < 2 {
			continue
		}
		g.Members = members
		kept = append(kept, g)
	}
	if len(kept) == 0 {
		s.Groups = []Group{}
		return
	}
	s.Groups = kept
}

// GroupPeers 返回与 id 处于同一分组的所有其他元素（去重）。
func (s *Slide) GroupPeers(id string) []ElementRef {
	seen := map[ElementRef]bool{}
	var out []ElementRef
	for _, g := range s.Groups {
		in := false
		for _, m := range g.Members {
			if m.ID == id {
				in = true
				break
			}
		}
		if !in {
			continue
		}
		for _, m := range g.Members {
			if m.ID == id || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// 新建元素时使用的默认排版参数。
const (
	DefaultFontSize   = 48
	DefaultFontWeight = 400
	DefaultLineHeight = 1.2
	DefaultTextColor  = "#FFFFFF"
)

// ApplyDefaults 为零值字段填入默认值。
func (b *TextBlock) ApplyDefaults() {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.Width <= 0 {
		b.Width = 80
	}
	if b.FontSize <= 0 {
		b.FontSize = DefaultFontSize
	}
	if b.FontWeight <= 0 {
		b.FontWeight = DefaultFontWeight
	}
	if b.LineHeight <= 0 {
		b.LineHeight = DefaultLineHeight
	}
	if b.Align == "" {
		b.Align = layout.AlignCenter
	}
	if b.Transform == "" {
		b.Transform = layout.TransformNone
	}
	if b.Color == "" {
		b.Color = DefaultTextColor
	}
}

// ApplyDefaults 为零值尺寸与 id 填入默认值。透明度 0 是合法取值，原样保留；
// 超出 [0,1] 的值会被截断。
func (o *Overlay) ApplyDefaults() {
	if o.ID == "" {
		o.ID = NewID()
	}
	if o.Width <= 0 {
		o.Width = 40
	}
	if o.Height <= 0 {
		o.Height = 40
	}
	if o.Opacity < 0 {
		o.Opacity = 0
	} else if o.Opacity > 1 {
		o.Opacity = 1
	}
}

// LayoutOptions 返回文本块在给定画布宽度下的排版参数。
func (b TextBlock) LayoutOptions(canvasWidth int) layout.Options {
	return layout.Options{
		MaxWidth:      layout.PercentToPx(b.Width, canvasWidth),
		FontSize:      b.FontSize,
		BaseWeight:    b.FontWeight,
		LineHeight:    b.LineHeight,
		LetterSpacing: b.LetterSpacing,
		WordSpacing:   b.WordSpacing,
		Align:         b.Align,
	}
}

// LayoutSegments 返回经过大小写变换后参与排版的片段。
func (b TextBlock) LayoutSegments() []layout.Segment {
	return layout.ApplyTransform(b.EffectiveSegments(), b.Transform)
}
