package document

import "github.com/ByLCY/carousel/layout"

// Clone 返回幻灯片的深拷贝，历史快照与导出快照都依赖它与原数据完全隔离。
func (s Slide) Clone() Slide {
	out := s
	if s.Tint != nil {
		t := *s.Tint
		out.Tint = &t
	}
	if s.TextBlocks != nil {
		out.TextBlocks = make([]TextBlock, len(s.TextBlocks))
		for i, tb := range s.TextBlocks {
			out.TextBlocks[i] = tb.Clone()
		}
	}
	if s.Overlays != nil {
		out.Overlays = make([]Overlay, len(s.Overlays))
		copy(out.Overlays, s.Overlays)
	}
	if s.Groups != nil {
		out.Groups = make([]Group, len(s.Groups))
		for i, g := range s.Groups {
			g.Members = append([]ElementRef(nil), g.Members...)
			out.Groups[i] = g
		}
	}
	return out
}

// Clone 返回文本块的深拷贝。
func (b TextBlock) Clone() TextBlock {
	out := b
	if b.Segments != nil {
		out.Segments = append([]layout.Segment(nil), b.Segments...)
	}
	if b.Stroke != nil {
		v := *b.Stroke
		out.Stroke = &v
	}
	if b.Shadow != nil {
		v := *b.Shadow
		out.Shadow = &v
	}
	if b.Pill != nil {
		v := *b.Pill
		out.Pill = &v
	}
	return out
}

// CloneSlides 深拷贝幻灯片列表。
func CloneSlides(slides []Slide) []Slide {
	if slides == nil {
		return nil
	}
	out := make([]Slide, len(slides))
	for i, s := range slides {
		out[i] = s.Clone()
	}
	return out
}

// Clone 返回整个文档的深拷贝。
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Slides = CloneSlides(d.Slides)
	out.OriginalSlides = CloneSlides(d.OriginalSlides)
	return &out
}

// NewSlide 返回一张空白幻灯片，默认白色背景。
func NewSlide() Slide {
	return Slide{
		ID:         NewID(),
		Background: Background{Color: "#FFFFFF"},
		TextBlocks: []TextBlock{},
		Overlays:   []Overlay{},
		Groups:     []Group{},
	}
}

// New 返回只包含一张空白幻灯片的新文档。
func New(aspectRatio, outputFormat string) *Document {
	if _, ok := aspectHeights[aspectRatio]; !ok {
		aspectRatio = DefaultAspectRatio
	}
	if outputFormat == "" {
		outputFormat = FormatPNG
	}
	first := NewSlide()
	return &Document{
		Version:        CurrentVersion,
		AspectRatio:    aspectRatio,
		OutputFormat:   outputFormat,
		Slides:         []Slide{first},
		OriginalSlides: []Slide{first.Clone()},
	}
}
