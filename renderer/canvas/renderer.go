package canvasrenderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/pdf"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/fonts"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/renderer"
)

// DefaultJPEGQuality is used when RenderOptions.Quality is zero.
const DefaultJPEGQuality = 92

var (
	// ErrNoBackground is returned for a slide that has neither a color nor an image background.
	ErrNoBackground = errors.New("幻灯片缺少背景")
	// ErrUnsupportedFormat is returned for encodings other than png, jpeg and pdf.
	ErrUnsupportedFormat = errors.New("不支持的输出格式")
)

// Renderer composites slides via github.com/tdewolff/canvas and measures text with the
// same font faces it draws with.
type Renderer struct {
	fetcher renderer.ImageFetcher
	log     *zap.Logger

	fontMu   sync.Mutex
	families map[string]*canvas.FontFamily
}

var (
	_ renderer.Renderer = (*Renderer)(nil)
	_ layout.Typesetter = (*Renderer)(nil)
)

// Options configures the canvas renderer.
type Options struct {
	Fetcher renderer.ImageFetcher // resolves background and overlay references
	Logger  *zap.Logger
}

// NewRenderer creates a renderer. A nil Fetcher makes every image reference fail.
func NewRenderer(opts Options) *Renderer {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{
		fetcher:  opts.Fetcher,
		log:      log,
		families: map[string]*canvas.FontFamily{},
	}
}

// SlideError reports a slide that could not be rendered.
type SlideError struct {
	Index int
	Err   error
}

func (e *SlideError) Error() string { return fmt.Sprintf("渲染第 %d 张幻灯片失败: %v", e.Index+1, e.Err) }

func (e *SlideError) Unwrap() error { return e.Err }

// LayoutSegments 实现 layout.Typesetter 接口，宽度由 FontFace.TextWidth 给出（含字偶距）。
func (r *Renderer) LayoutSegments(segs []layout.Segment, opts layout.Options) ([]layout.Line, error) {
	return layout.Wrap(segs, opts, layout.MeasurerFunc(r.Advance))
}

// Advance returns the shaped width of text in canvas pixels.
func (r *Renderer) Advance(text string, weight int, fontSize float64) (float64, error) {
	r.fontMu.Lock()
	defer r.fontMu.Unlock()
	face, err := r.fontFace(weight, fontSize, canvas.Black)
	if err != nil {
		return 0, err
	}
	return face.TextWidth(text), nil
}

// RenderSlide composites one slide and encodes it as png, jpeg or a single-page pdf.
func (r *Renderer) RenderSlide(ctx context.Context, slide document.Slide, opts renderer.RenderOptions) ([]byte, error) {
	format, err := document.NormalizeFormat(opts.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}
	img, err := r.Composite(ctx, slide, opts.AspectRatio)
	if err != nil {
		return nil, err
	}
	if format == document.FormatPDF {
		return r.writePDF([]*image.RGBA{img}, document.Document{})
	}
	return encode(img, format, opts.Quality)
}

// Composite draws the slide onto a new canvas-sized bitmap: background, tint, then every
// element in ascending z order.
func (r *Renderer) Composite(ctx context.Context, slide document.Slide, ratio string) (*image.RGBA, error) {
	cw, ch := document.Canvas(ratio)
	dst, err := r.background(ctx, slide, cw, ch)
	if err != nil {
		return nil, err
	}
	for _, ref := range slide.ZOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch ref.Kind {
		case document.KindText:
			tb := slide.TextBlocks[slide.TextIndex(ref.ID)]
			if err := r.drawTextBlock(dst, tb, cw, ch); err != nil {
				return nil, fmt.Errorf("绘制文本块 %s 失败: %w", tb.ID, err)
			}
		case document.KindOverlay:
			ov := slide.Overlays[slide.OverlayIndex(ref.ID)]
			if err := r.drawOverlay(ctx, dst, ov, cw, ch); err != nil {
				r.log.Warn("跳过叠加图片", zap.String("slide", slide.ID), zap.String("overlay", ov.ID), zap.Error(err))
			}
		}
	}
	return dst, nil
}

// RenderDocument renders every slide. Failed slides leave a nil entry and contribute a
// *SlideError to the joined error; siblings are still rendered.
func (r *Renderer) RenderDocument(ctx context.Context, doc document.Document, opts renderer.RenderOptions) ([][]byte, error) {
	if opts.AspectRatio == "" {
		opts.AspectRatio = doc.AspectRatio
	}
	if opts.Format == "" {
		opts.Format = doc.OutputFormat
	}
	out := make([][]byte, len(doc.Slides))
	var errs []error
	for i, slide := range doc.Slides {
		data, err := r.RenderSlide(ctx, slide, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, &SlideError{Index: i, Err: err})
			continue
		}
		out[i] = data
	}
	return out, errors.Join(errs...)
}

// RenderPDF renders the whole document as a PDF with one page per slide.
func (r *Renderer) RenderPDF(ctx context.Context, doc document.Document) ([]byte, error) {
	if len(doc.Slides) == 0 {
		return nil, fmt.Errorf("缺少可渲染的幻灯片")
	}
	pages := make([]*image.RGBA, 0, len(doc.Slides))
	for i, slide := range doc.Slides {
		img, err := r.Composite(ctx, slide, doc.AspectRatio)
		if err != nil {
			return nil, &SlideError{Index: i, Err: err}
		}
		pages = append(pages, img)
	}
	return r.writePDF(pages, doc)
}

func (r *Renderer) writePDF(pages []*image.RGBA, doc document.Document) ([]byte, error) {
	var buf bytes.Buffer
	first := pages[0].Bounds()
	writer := pdf.New(&buf, float64(first.Dx()), float64(first.Dy()), nil)
	writer.SetInfo("carousel", doc.AspectRatio, "", "", "carousel")
	for i, img := range pages {
		w, h := float64(img.Bounds().Dx()), float64(img.Bounds().Dy())
		if i > 0 {
			writer.NewPage(w, h)
		}
		c := canvas.New(w, h)
		ctx := canvas.NewContext(c)
		ctx.SetCoordSystem(canvas.CartesianIV) // 使坐标与布局保持左上角为原点
		ctx.DrawImage(0, 0, img, canvas.DPMM(1))
		c.RenderTo(writer)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("写入 PDF 失败: %w", err)
	}
	return buf.Bytes(), nil
}

// background establishes the base canvas. A missing background or an unreadable
// background image fails the slide.
func (r *Renderer) background(ctx context.Context, slide document.Slide, cw, ch int) (*image.RGBA, error) {
	dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
	switch slide.Background.Kind() {
	case document.BackgroundColor:
		c, err := document.ParseColor(slide.Background.Color)
		if err != nil {
			return nil, err
		}
		draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
		return dst, nil
	case document.BackgroundImage:
		src, err := r.fetch(ctx, slide.Background.Image)
		if err != nil {
			return nil, fmt.Errorf("读取背景图片失败: %w", err)
		}
		filled := imaging.Fill(src, cw, ch, imaging.Center, imaging.Lanczos)
		draw.Draw(dst, dst.Bounds(), filled, image.Point{}, draw.Src)
		if t := slide.Tint; t != nil && t.Opacity > 0 {
			tint := document.MustColor(t.Color, color.NRGBA{A: 255})
			tint.A = uint8(clamp01(t.Opacity)*float64(tint.A) + 0.5)
			draw.Draw(dst, dst.Bounds(), image.NewUniform(tint), image.Point{}, draw.Over)
		}
		return dst, nil
	default:
		return nil, ErrNoBackground
	}
}

func (r *Renderer) fetch(ctx context.Context, ref string) (image.Image, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("未配置图片读取器，无法读取 %s", ref)
	}
	return r.fetcher.Fetch(ctx, ref)
}

// fontFace returns a face for the weight at a pixel font size. Callers hold fontMu.
func (r *Renderer) fontFace(weight int, sizePx float64, fill color.Color) (*canvas.FontFace, error) {
	name := fonts.NameForWeight(weight)
	family, ok := r.families[name]
	if !ok {
		data, err := fonts.Load(name)
		if err != nil {
			return nil, err
		}
		family = canvas.NewFontFamily(name)
		if err := family.LoadFont(data, 0, canvas.FontRegular); err != nil {
			return nil, fmt.Errorf("加载字体 %s 失败: %w", name, err)
		}
		r.families[name] = family
	}
	return family.Face(layout.PxToPt(sizePx), fill), nil
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case document.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("编码 PNG 失败: %w", err)
		}
	case document.FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("编码 JPEG 失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
