// Package server exposes editing sessions over HTTP. Each open document lives in an
// editor.Store; saving writes it back to the repository.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ByLCY/carousel/assets"
	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/editor"
	"github.com/ByLCY/carousel/export"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/preview"
	"github.com/ByLCY/carousel/renderer"
	"github.com/ByLCY/carousel/storage"
)

// Options wires the server's collaborators. Generator and Fetcher may be nil.
type Options struct {
	Repository   storage.Repository
	Renderer     renderer.Renderer
	Exporter     *export.Exporter
	Generator    assets.Generator
	Fetcher      renderer.ImageFetcher
	Preview      *preview.Typesetter
	HistoryLimit int
	Logger       *zap.Logger
}

// Server holds the open editing sessions.
type Server struct {
	repo      storage.Repository
	renderer  renderer.Renderer
	exporter  *export.Exporter
	generator assets.Generator
	fetcher   renderer.ImageFetcher
	preview   *preview.Typesetter
	limit     int
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*editor.Store

	// jobs 跟踪尚未写回的素材生成任务。
	jobs sync.WaitGroup
}

// New creates a Server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pv := opts.Preview
	if pv == nil {
		pv = preview.NewTypesetter()
	}
	return &Server{
		repo:      opts.Repository,
		renderer:  opts.Renderer,
		exporter:  opts.Exporter,
		generator: opts.Generator,
		fetcher:   opts.Fetcher,
		preview:   pv,
		limit:     opts.HistoryLimit,
		log:       log,
		sessions:  map[string]*editor.Store{},
	}
}

// Wait blocks until every pending asset generation has been applied or dropped.
func (s *Server) Wait() { s.jobs.Wait() }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/documents", s.listDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.createDocument).Methods(http.MethodPost)

	doc := api.PathPrefix("/documents/{id}").Subrouter()
	doc.HandleFunc("", s.getDocument).Methods(http.MethodGet)
	doc.HandleFunc("", s.putDocument).Methods(http.MethodPut)
	doc.HandleFunc("/save", s.saveDocument).Methods(http.MethodPost)
	doc.HandleFunc("/output", s.setOutput).Methods(http.MethodPut)
	doc.HandleFunc("/undo", s.undo).Methods(http.MethodPost)
	doc.HandleFunc("/redo", s.redo).Methods(http.MethodPost)
	doc.HandleFunc("/active", s.setActive).Methods(http.MethodPut)
	doc.HandleFunc("/selection", s.selectElement).Methods(http.MethodPost)
	doc.HandleFunc("/selection", s.clearSelection).Methods(http.MethodDelete)
	doc.HandleFunc("/selection/delete", s.deleteSelected).Methods(http.MethodPost)
	doc.HandleFunc("/selection/group", s.groupSelected).Methods(http.MethodPost)
	doc.HandleFunc("/selection/zorder/{op}", s.reorder).Methods(http.MethodPost)
	doc.HandleFunc("/clear", s.bulkClear).Methods(http.MethodPost)
	doc.HandleFunc("/dirty", s.dirty).Methods(http.MethodGet)
	doc.HandleFunc("/export", s.exportDirty).Methods(http.MethodPost)
	doc.HandleFunc("/bundle", s.bundle).Methods(http.MethodGet)

	doc.HandleFunc("/slides", s.addSlide).Methods(http.MethodPost)
	doc.HandleFunc("/slides/move", s.moveSlide).Methods(http.MethodPost)
	slide := doc.PathPrefix("/slides/{index:[0-9]+}").Subrouter()
	slide.HandleFunc("", s.getSlide).Methods(http.MethodGet)
	slide.HandleFunc("", s.deleteSlide).Methods(http.MethodDelete)
	slide.HandleFunc("/duplicate", s.duplicateSlide).Methods(http.MethodPost)
	slide.HandleFunc("/reset", s.resetSlide).Methods(http.MethodPost)
	slide.HandleFunc("/background", s.setBackground).Methods(http.MethodPut)
	slide.HandleFunc("/background", s.clearBackground).Methods(http.MethodDelete)
	slide.HandleFunc("/tint", s.setTint).Methods(http.MethodPut)
	slide.HandleFunc("/generate", s.generate).Methods(http.MethodPost)
	slide.HandleFunc("/text", s.addText).Methods(http.MethodPost)
	slide.HandleFunc("/text/{eid}", s.updateText).Methods(http.MethodPatch)
	slide.HandleFunc("/text/{eid}", s.deleteText).Methods(http.MethodDelete)
	slide.HandleFunc("/text/{eid}/markup", s.setMarkup).Methods(http.MethodPut)
	slide.HandleFunc("/text/{eid}/layout", s.textLayout).Methods(http.MethodGet)
	slide.HandleFunc("/regions", s.applyRegions).Methods(http.MethodPost)
	slide.HandleFunc("/overlays", s.addOverlay).Methods(http.MethodPost)
	slide.HandleFunc("/overlays/{eid}", s.updateOverlay).Methods(http.MethodPatch)
	slide.HandleFunc("/overlays/{eid}", s.deleteOverlay).Methods(http.MethodDelete)
	slide.HandleFunc("/elements/{eid}/translate", s.translate).Methods(http.MethodPost)
	slide.HandleFunc("/groups/{gid}", s.ungroup).Methods(http.MethodDelete)
	slide.HandleFunc("/preview", s.previewSlide).Methods(http.MethodGet)
	slide.HandleFunc("/render", s.renderSlide).Methods(http.MethodGet)

	return r
}

// session returns the open store for id, loading it from the repository on first use.
func (s *Server) session(ctx context.Context, id string) (*editor.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.sessions[id]; ok {
		return store, nil
	}
	doc, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	store := s.newStore(doc)
	s.sessions[id] = store
	return store, nil
}

func (s *Server) newStore(doc *document.Document) *editor.Store {
	return editor.New(doc, editor.Options{HistoryLimit: s.limit, Logger: s.log})
}

// typesetter returns the engine used for layout inspection: the export renderer when it
// can lay out text, the preview engine otherwise.
func (s *Server) typesetter() layout.Typesetter {
	if ts, ok := s.renderer.(layout.Typesetter); ok {
		return ts
	}
	return s.preview
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

var errBadRequest = errors.New("请求格式错误")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, storage.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, editor.ErrSlideIndex),
		errors.Is(err, editor.ErrElementNotFound):
		return http.StatusNotFound
	case errors.Is(err, editor.ErrLastSlide), errors.Is(err, editor.ErrNeedTwoMembers),
		errors.Is(err, editor.ErrNoOriginal):
		return http.StatusConflict
	case errors.Is(err, export.ErrPDFUnsupported), errors.Is(err, errNoGenerator):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}
