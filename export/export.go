// Package export renders slides that changed since the last publish, bundles them and
// hands the bundle to the blob store.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ByLCY/carousel/assets"
	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/editor"
	"github.com/ByLCY/carousel/renderer"
)

// DefaultConcurrency bounds parallel slide renders when Options.Concurrency is zero.
const DefaultConcurrency = 4

var (
	// ErrNothingRendered is returned when every slide of an export failed.
	ErrNothingRendered = errors.New("没有渲染成功的幻灯片")
	// ErrPDFUnsupported is returned by Bundle when the renderer cannot produce PDFs.
	ErrPDFUnsupported = errors.New("渲染器不支持 PDF 输出")
)

// Ledger is the part of the editor store an export needs.
type Ledger interface {
	ExportSnapshot(indices []int) editor.Snapshot
	MarkPublished(snap editor.Snapshot) []int
}

var _ Ledger = (*editor.Store)(nil)

// PDFRenderer renders a whole document as one PDF.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, doc document.Document) ([]byte, error)
}

// Options configures an Exporter.
type Options struct {
	Renderer    renderer.Renderer
	Uploader    assets.Uploader // optional; without it the bundle is only returned
	Logger      *zap.Logger
	Concurrency int
	Quality     int
}

// Exporter renders and publishes slides.
type Exporter struct {
	renderer    renderer.Renderer
	uploader    assets.Uploader
	log         *zap.Logger
	concurrency int
	quality     int
}

// New creates an Exporter.
func New(opts Options) *Exporter {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	n := opts.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	return &Exporter{
		renderer:    opts.Renderer,
		uploader:    opts.Uploader,
		log:         log,
		concurrency: n,
		quality:     opts.Quality,
	}
}

// SlideFailure records one slide that did not render.
type SlideFailure struct {
	Index int
	Err   error
}

// Result describes one export run.
type Result struct {
	Rendered  []int          // indices rendered successfully
	Failed    []SlideFailure // indices that failed, with their errors
	Published []int          // indices whose dirty flag was cleared
	Archive   []byte         // zip with one image per rendered slide
	URL       string         // where the archive was uploaded, if an uploader is set
}

// ExportDirty renders every dirty slide, zips the successful ones, uploads the zip and
// clears the dirty flag of the slides that made it into the published bundle. Slides
// edited while the export ran stay dirty.
func (e *Exporter) ExportDirty(ctx context.Context, ledger Ledger, name string) (Result, error) {
	snap := ledger.ExportSnapshot(nil)
	if len(snap.Entries) == 0 {
		return Result{}, nil
	}
	format, err := document.NormalizeFormat(snap.OutputFormat)
	if err != nil || format == document.FormatPDF {
		format = document.FormatPNG
	}

	images, failures, err := e.render(ctx, snap, format)
	if err != nil {
		return Result{}, err
	}
	res := Result{Failed: failures}
	for i := range images {
		res.Rendered = append(res.Rendered, i)
	}
	sort.Ints(res.Rendered)
	if len(res.Rendered) == 0 {
		return res, ErrNothingRendered
	}

	res.Archive, err = zipSlides(images, format)
	if err != nil {
		return res, err
	}
	if e.uploader != nil {
		if name == "" {
			name = "carousel-" + time.Now().UTC().Format("20060102-150405")
		}
		res.URL, err = e.uploader.Upload(ctx, name+".zip", res.Archive)
		if err != nil {
			e.log.Error("上传导出包失败", zap.Error(err))
			return res, fmt.Errorf("上传导出包失败: %w", err)
		}
	}
	res.Published = ledger.MarkPublished(snap.Subset(res.Rendered))
	e.log.Info("导出完成",
		zap.Ints("rendered", res.Rendered),
		zap.Ints("published", res.Published),
		zap.Int("failed", len(res.Failed)),
		zap.String("url", res.URL),
	)
	return res, nil
}

// render renders the snapshot entries with bounded parallelism. Per-slide failures are
// collected; only context cancellation aborts the run.
func (e *Exporter) render(ctx context.Context, snap editor.Snapshot, format string) (map[int][]byte, []SlideFailure, error) {
	var (
		mu       sync.Mutex
		images   = map[int][]byte{}
		failures []SlideFailure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	opts := renderer.RenderOptions{AspectRatio: snap.AspectRatio, Format: format, Quality: e.quality}
	for _, entry := range snap.Entries {
		entry := entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := e.renderer.RenderSlide(gctx, entry.Slide, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Warn("幻灯片渲染失败", zap.Int("slide", entry.Index), zap.Error(err))
				failures = append(failures, SlideFailure{Index: entry.Index, Err: err})
				return nil
			}
			images[entry.Index] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	return images, failures, nil
}

// Bundle renders the whole document: a PDF for format "pdf", otherwise a zip of images.
// Any slide failure fails the bundle.
func (e *Exporter) Bundle(ctx context.Context, doc *document.Document, format string) ([]byte, error) {
	format, err := document.NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if format == document.FormatPDF {
		pr, ok := e.renderer.(PDFRenderer)
		if !ok {
			return nil, ErrPDFUnsupported
		}
		return pr.RenderPDF(ctx, *doc)
	}
	snap := editor.Snapshot{AspectRatio: doc.AspectRatio, OutputFormat: format}
	for i, s := range doc.Slides {
		snap.Entries = append(snap.Entries, editor.SnapshotEntry{Index: i, Slide: s})
	}
	images, failures, err := e.render(ctx, snap, format)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, fmt.Errorf("渲染第 %d 张幻灯片失败: %w", failures[0].Index+1, failures[0].Err)
	}
	return zipSlides(images, format)
}

// FileName returns the archive entry name of a slide: slide-01.png, slide-02.png, ...
func FileName(index int, format string) string {
	ext := format
	if ext == document.FormatJPEG {
		ext = "jpg"
	}
	return fmt.Sprintf("slide-%02d.%s", index+1, ext)
}

func zipSlides(images map[int][]byte, format string) ([]byte, error) {
	indices := make([]int, 0, len(images))
	for i := range images {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, i := range indices {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: FileName(i, format), Method: zip.Store, Modified: time.Now()})
		if err != nil {
			return nil, fmt.Errorf("写入压缩包失败: %w", err)
		}
		if _, err := w.Write(images[i]); err != nil {
			return nil, fmt.Errorf("写入压缩包失败: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("写入压缩包失败: %w", err)
	}
	return buf.Bytes(), nil
}
