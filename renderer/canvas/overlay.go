package canvasrenderer

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"golang.org/x/image/draw"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/layout"
)

// drawOverlay cover-fills the image into its box, masks the corners, rotates it about
// the box center and composites it with the overlay opacity.
func (r *Renderer) drawOverlay(ctx context.Context, dst *image.RGBA, ov document.Overlay, cw, ch int) error {
	x := layout.PercentToPx(ov.X, cw)
	y := layout.PercentToPx(ov.Y, ch)
	w := layout.Round(layout.PercentToPx(ov.Width, cw))
	h := layout.Round(layout.PercentToPx(ov.Height, ch))
	if w <= 0 || h <= 0 || ov.Opacity <= 0 {
		return nil
	}
	src, err := r.fetch(ctx, ov.Src)
	if err != nil {
		return err
	}

	img := imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
	if ov.Radius > 0 {
		img = roundCorners(img, ov.Radius)
	}
	if ov.Rotation != 0 {
		// imaging 按逆时针旋转，画布旋转角为顺时针。
		img = imaging.Rotate(img, -ov.Rotation, color.Transparent)
	}
	cx := x + float64(w)/2
	cy := y + float64(h)/2
	pos := image.Pt(
		layout.Round(cx-float64(img.Bounds().Dx())/2),
		layout.Round(cy-float64(img.Bounds().Dy())/2),
	)

	out := imaging.Overlay(dst, img, pos, clamp01(ov.Opacity))
	draw.Draw(dst, dst.Bounds(), out, image.Point{}, draw.Src)
	return nil
}

// roundCorners clears everything outside a rounded rectangle of the image's size.
func roundCorners(img *image.NRGBA, radius float64) *image.NRGBA {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	radius = math.Min(radius, math.Min(w, h)/2)

	c := canvas.New(w, h)
	ctx := canvas.NewContext(c)
	ctx.SetFillColor(canvas.Black)
	ctx.DrawPath(0, 0, canvas.RoundedRectangle(w, h, radius))
	mask := rasterizer.Draw(c, canvas.DPMM(1), canvas.DefaultColorSpace)

	out := image.NewNRGBA(b)
	draw.DrawMask(out, b, img, b.Min, mask, image.Point{}, draw.Src)
	return out
}
