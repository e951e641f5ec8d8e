package canvasrenderer

import (
	"image"
	"image/color"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"golang.org/x/image/draw"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/layout"
)

var white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// drawTextBlock lays out the block and draws, in order: pill, shadow, stroke, fill.
func (r *Renderer) drawTextBlock(dst *image.RGBA, tb document.TextBlock, cw, ch int) error {
	opts := tb.LayoutOptions(cw)
	lines, err := r.LayoutSegments(tb.LayoutSegments(), opts)
	if err != nil {
		return err
	}
	left := layout.PercentToPx(tb.X, cw)
	top := layout.PercentToPx(tb.Y, ch)

	glyphs, err := r.glyphPath(lines, opts, left, top)
	if err != nil {
		return err
	}

	if p := tb.Pill; p != nil && p.Color != "" {
		pc := canvas.New(float64(cw), float64(ch))
		pctx := canvas.NewContext(pc)
		pctx.SetCoordSystem(canvas.CartesianIV)
		drawPill(pctx, *p, lines, opts, left, top)
		rasterize(pc, dst)
	}
	if glyphs.Empty() {
		return nil
	}
	if sh := tb.Shadow; sh != nil && sh.Color != "" {
		r.drawShadow(dst, glyphs, *sh)
	}

	c := canvas.New(float64(cw), float64(ch))
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)
	if s := tb.Stroke; s != nil && s.Width > 0 {
		// 描边宽度加倍，内侧一半被随后绘制的填充覆盖。
		ctx.SetFillColor(canvas.Transparent)
		ctx.SetStrokeColor(document.MustColor(s.Color, color.NRGBA{A: 255}))
		ctx.SetStrokeWidth(s.Width * 2)
		ctx.SetStrokeJoiner(canvas.RoundJoin)
		ctx.SetStrokeCapper(canvas.RoundCap)
		ctx.DrawPath(0, 0, glyphs)
	}
	ctx.SetStrokeColor(canvas.Transparent)
	ctx.SetStrokeWidth(0)
	ctx.SetFillColor(document.MustColor(tb.Color, white))
	ctx.DrawPath(0, 0, glyphs)

	rasterize(c, dst)
	return nil
}

// glyphPath converts laid-out words into one outline path in canvas coordinates
// (origin top-left, y down). Without letter or word spacing adjacent words of equal
// weight are shaped together so kerning between them is kept.
func (r *Renderer) glyphPath(lines []layout.Line, opts layout.Options, left, top float64) (*canvas.Path, error) {
	r.fontMu.Lock()
	defer r.fontMu.Unlock()

	out := &canvas.Path{}
	lineHeight := opts.FontSize * opts.LineHeight
	if lineHeight <= 0 {
		lineHeight = opts.FontSize * 1.2
	}
	spaced := opts.LetterSpacing != 0 || opts.WordSpacing != 0
	for _, ln := range lines {
		words := ln.Words
		if !spaced {
			words = ln.Runs()
		}
		for _, w := range words {
			face, err := r.fontFace(w.Weight, opts.FontSize, canvas.Black)
			if err != nil {
				return nil, err
			}
			m := face.Metrics()
			baseline := top + ln.Y + (lineHeight-(m.Ascent+m.Descent))/2 + m.Ascent
			x := left + w.X
			if !spaced {
				text := strings.TrimRightFunc(w.Text, unicode.IsSpace)
				if text == "" {
					continue
				}
				p, _, err := face.ToPath(text)
				if err != nil {
					return nil, err
				}
				out = out.Append(p.Scale(1, -1).Translate(x, baseline))
				continue
			}
			for _, rn := range w.Text {
				s := string(rn)
				if !unicode.IsSpace(rn) {
					p, _, err := face.ToPath(s)
					if err != nil {
						return nil, err
					}
					out = out.Append(p.Scale(1, -1).Translate(x, baseline))
				}
				x += face.TextWidth(s) + opts.LetterSpacing
				if unicode.IsSpace(rn) {
					x += opts.WordSpacing
				}
			}
		}
	}
	return out, nil
}

// drawShadow rasterizes the glyphs in the shadow color on their own layer, blurs it and
// composites it under whatever is drawn next.
func (r *Renderer) drawShadow(dst *image.RGBA, glyphs *canvas.Path, sh document.Shadow) {
	if glyphs.Empty() {
		return
	}
	b := dst.Bounds()
	c := canvas.New(float64(b.Dx()), float64(b.Dy()))
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)
	ctx.SetFillColor(document.MustColor(sh.Color, color.NRGBA{A: 255}))
	ctx.DrawPath(sh.OffsetX, sh.OffsetY, glyphs)

	var layer image.Image = rasterizer.Draw(c, canvas.DPMM(1), canvas.DefaultColorSpace)
	if sh.Blur > 0 {
		// CSS 模糊半径约为高斯标准差的两倍。
		layer = imaging.Blur(layer, sh.Blur/2)
	}
	draw.Draw(dst, b, layer, image.Point{}, draw.Over)
}

func drawPill(ctx *canvas.Context, p document.Pill, lines []layout.Line, opts layout.Options, left, top float64) {
	minX, maxX, height := layout.Bounds(lines, opts)
	if maxX <= minX || height <= 0 {
		return
	}
	w := maxX - minX + 2*p.Padding
	h := height + 2*p.Padding
	radius := p.Radius
	if radius > h/2 {
		radius = h / 2
	}
	fill := document.MustColor(p.Color, color.NRGBA{A: 255})
	opacity := p.Opacity
	if opacity <= 0 {
		opacity = 1
	}
	fill.A = uint8(clamp01(opacity)*float64(fill.A) + 0.5)

	ctx.Push()
	defer ctx.Pop()
	ctx.SetFillColor(fill)
	if p.BorderWidth > 0 && p.BorderColor != "" {
		ctx.SetStrokeColor(document.MustColor(p.BorderColor, color.NRGBA{A: 255}))
		ctx.SetStrokeWidth(p.BorderWidth)
	} else {
		ctx.SetStrokeColor(canvas.Transparent)
		ctx.SetStrokeWidth(0)
	}
	ctx.DrawPath(left+minX-p.Padding, top-p.Padding, canvas.RoundedRectangle(w, h, radius))
}

// rasterize draws the canvas over dst at 1px per mm.
func rasterize(c *canvas.Canvas, dst *image.RGBA) {
	ras := rasterizer.FromImage(dst, canvas.DPMM(1), canvas.DefaultColorSpace)
	c.RenderTo(ras)
	ras.Close()
}
