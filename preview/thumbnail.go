package preview

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/fonts"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/renderer"
)

// 缩略图中无法显示的背景用浅灰色占位。
var placeholder = color.NRGBA{R: 0xE5, G: 0xE5, B: 0xE5, A: 0xFF}

// Thumbnail 以 scale 倍率绘制幻灯片的低保真预览：背景、裁剪填充到盒子的叠加图片和纯色文字。
// 不绘制描边、投影与旋转；取不到的图片直接跳过。
func (t *Typesetter) Thumbnail(ctx context.Context, slide document.Slide, ratio string, scale float64, fetcher renderer.ImageFetcher) (*image.RGBA, error) {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	cw, ch := document.Canvas(ratio)
	w := int(math.Round(float64(cw) * scale))
	h := int(math.Round(float64(ch) * scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	t.drawBackground(ctx, dst, slide, fetcher)

	for _, ref := range slide.ZOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch ref.Kind {
		case document.KindText:
			tb := slide.TextBlocks[slide.TextIndex(ref.ID)]
			if err := t.drawText(dst, tb, cw, ch, scale); err != nil {
				return nil, err
			}
		case document.KindOverlay:
			ov := slide.Overlays[slide.OverlayIndex(ref.ID)]
			drawOverlay(ctx, dst, ov, cw, ch, scale, fetcher)
		}
	}
	return dst, nil
}

func (t *Typesetter) drawBackground(ctx context.Context, dst *image.RGBA, slide document.Slide, fetcher renderer.ImageFetcher) {
	bounds := dst.Bounds()
	switch slide.Background.Kind() {
	case document.BackgroundColor:
		c := document.MustColor(slide.Background.Color, placeholder)
		draw.Draw(dst, bounds, image.NewUniform(c), image.Point{}, draw.Src)
		return
	case document.BackgroundImage:
		if fetcher != nil {
			if src, err := fetcher.Fetch(ctx, slide.Background.Image); err == nil {
				draw.ApproxBiLinear.Scale(dst, bounds, src, coverRect(src.Bounds(), bounds.Dx(), bounds.Dy()), draw.Src, nil)
				if slide.Tint != nil && slide.Tint.Opacity > 0 {
					tint := document.MustColor(slide.Tint.Color, color.NRGBA{A: 255})
					tint.A = uint8(math.Round(clamp01(slide.Tint.Opacity) * float64(tint.A)))
					draw.Draw(dst, bounds, image.NewUniform(tint), image.Point{}, draw.Over)
				}
				return
			}
		}
	}
	draw.Draw(dst, bounds, image.NewUniform(placeholder), image.Point{}, draw.Src)
}

func (t *Typesetter) drawText(dst *image.RGBA, tb document.TextBlock, cw, ch int, scale float64) error {
	opts := tb.LayoutOptions(cw)
	lines, err := t.LayoutSegments(tb.LayoutSegments(), opts)
	if err != nil {
		return err
	}
	left := layout.PercentToPx(tb.X, cw)
	top := layout.PercentToPx(tb.Y, ch)
	fill := image.NewUniform(document.MustColor(tb.Color, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	lineHeight := opts.FontSize * opts.LineHeight
	if lineHeight <= 0 {
		lineHeight = opts.FontSize * 1.2
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ln := range lines {
		for _, word := range ln.Words {
			face, err := t.face(fonts.NameForWeight(word.Weight), opts.FontSize*scale)
			if err != nil {
				return err
			}
			m := face.Metrics()
			ascent := float64(m.Ascent) / 64
			descent := float64(m.Descent) / 64
			baseline := (top+ln.Y)*scale + (lineHeight*scale-(ascent+descent))/2 + ascent
			d := font.Drawer{
				Dst:  dst,
				Src:  fill,
				Face: face,
				Dot:  fixed.Point26_6{X: floatToFixed((left + word.X) * scale), Y: floatToFixed(baseline)},
			}
			d.DrawString(word.Text)
		}
	}
	return nil
}

func drawOverlay(ctx context.Context, dst *image.RGBA, ov document.Overlay, cw, ch int, scale float64, fetcher renderer.ImageFetcher) {
	if fetcher == nil {
		return
	}
	src, err := fetcher.Fetch(ctx, ov.Src)
	if err != nil {
		return
	}
	rect := image.Rect(
		layout.Round(layout.PercentToPx(ov.X, cw)*scale),
		layout.Round(layout.PercentToPx(ov.Y, ch)*scale),
		layout.Round(layout.PercentToPx(ov.X+ov.Width, cw)*scale),
		layout.Round(layout.PercentToPx(ov.Y+ov.Height, ch)*scale),
	)
	if rect.Empty() {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.ApproxBiLinear.Scale(tmp, tmp.Bounds(), src, coverRect(src.Bounds(), rect.Dx(), rect.Dy()), draw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(clamp01(ov.Opacity) * 255))})
	draw.DrawMask(dst, rect, tmp, image.Point{}, mask, image.Point{}, draw.Over)
}

// coverRect 返回 src 中按目标宽高比居中裁剪的区域。
func coverRect(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 || w == 0 || h == 0 {
		return src
	}
	target := float64(w) / float64(h)
	if float64(sw)/float64(sh) > target {
		cropW := int(math.Round(float64(sh) * target))
		x0 := src.Min.X + (sw-cropW)/2
		return image.Rect(x0, src.Min.Y, x0+cropW, src.Max.Y)
	}
	cropH := int(math.Round(float64(sw) / target))
	y0 := src.Min.Y + (sh-cropH)/2
	return image.Rect(src.Min.X, y0, src.Max.X, y0+cropH)
}

func floatToFixed(v float64) fixed.Int26_6 { return fixed.Int26_6(math.Round(v * 64)) }

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }
