// Package preview is the interactive-surface side of the layout contract: it measures
// text glyph by glyph the way a browser canvas does and draws quick thumbnails.
package preview

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/ByLCY/carousel/fonts"
	"github.com/ByLCY/carousel/layout"
)

var _ layout.Typesetter = (*Typesetter)(nil)

// Typesetter 用 x/image 的 opentype 字形前进宽度加字偶距测量文本。
// font.Face 不是并发安全的，所有测量都在 mu 下进行。
type Typesetter struct {
	mu    sync.Mutex
	fonts map[string]*opentype.Font
	faces map[faceKey]font.Face
}

type faceKey struct {
	name string
	size float64
}

// NewTypesetter 创建预览排版器。
func NewTypesetter() *Typesetter {
	return &Typesetter{
		fonts: map[string]*opentype.Font{},
		faces: map[faceKey]font.Face{},
	}
}

// LayoutSegments 实现 layout.Typesetter。
func (t *Typesetter) LayoutSegments(segs []layout.Segment, opts layout.Options) ([]layout.Line, error) {
	return layout.Wrap(segs, opts, layout.MeasurerFunc(t.Advance))
}

// Advance 返回 text 的前进宽度（像素）：逐字符累加字形前进宽度与相邻字符的字偶距。
func (t *Typesetter) Advance(text string, weight int, fontSize float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	face, err := t.face(fonts.NameForWeight(weight), fontSize)
	if err != nil {
		return 0, err
	}
	var total fixed.Int26_6
	prev := rune(-1)
	for _, r := range text {
		if prev >= 0 {
			total += face.Kern(prev, r)
		}
		adv, _ := face.GlyphAdvance(r)
		total += adv
		prev = r
	}
	return float64(total) / 64, nil
}

// Face 返回给定字重与像素字号的字体面，供缩略图绘制使用。调用方不得并发使用返回值。
func (t *Typesetter) Face(weight int, fontSize float64) (font.Face, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.face(fonts.NameForWeight(weight), fontSize)
}

func (t *Typesetter) face(name string, size float64) (font.Face, error) {
	key := faceKey{name: name, size: size}
	if f, ok := t.faces[key]; ok {
		return f, nil
	}
	parsed, ok := t.fonts[name]
	if !ok {
		data, err := fonts.Load(name)
		if err != nil {
			return nil, err
		}
		parsed, err = opentype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("解析字体 %s 失败: %w", name, err)
		}
		t.fonts[name] = parsed
	}
	// DPI 72 时 1pt = 1px，字号直接使用画布像素。
	f, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("创建字体 %s 失败: %w", name, err)
	}
	t.faces[key] = f
	return f, nil
}
