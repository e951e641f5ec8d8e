package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/editor"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/renderer"
)

var errNoGenerator = errors.New("未配置图片生成服务")

// defaultPreviewScale 是缩略图默认倍率。
const defaultPreviewScale = 0.25

type documentState struct {
	ID        string             `json:"id"`
	Document  *document.Document `json:"document"`
	Active    int                `json:"active"`
	Selection []string           `json:"selection"`
	CanUndo   bool               `json:"canUndo"`
	CanRedo   bool               `json:"canRedo"`
	Dirty     []int              `json:"dirty"`
}

func state(id string, store *editor.Store) documentState {
	return documentState{
		ID:        id,
		Document:  store.Document(),
		Active:    store.ActiveSlide(),
		Selection: store.Selection(),
		CanUndo:   store.CanUndo(),
		CanRedo:   store.CanRedo(),
		Dirty:     store.Dirty(),
	}
}

// withStore resolves the {id} session and hands it to fn.
func (s *Server) withStore(w http.ResponseWriter, r *http.Request, fn func(id string, store *editor.Store) error) {
	id := mux.Vars(r)["id"]
	store, err := s.session(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := fn(id, store); err != nil {
		s.fail(w, r, err)
	}
}

// edit runs a mutation and replies with the new document state. Errors the store does
// not classify are validation failures of the request.
func (s *Server) edit(w http.ResponseWriter, r *http.Request, fn func(store *editor.Store) error) {
	s.withStore(w, r, func(id string, store *editor.Store) error {
		if err := fn(store); err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				err = fmt.Errorf("%w: %w", errBadRequest, err)
			}
			return err
		}
		writeJSON(w, http.StatusOK, state(id, store))
		return nil
	})
}

func slideIndex(r *http.Request) int {
	i, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		return -1
	}
	return i
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	ids, err := s.repo.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": ids})
}

type createRequest struct {
	ID           string `json:"id"`
	AspectRatio  string `json:"aspectRatio"`
	OutputFormat string `json:"outputFormat"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ID == "" {
		req.ID = document.NewID()
	}
	if req.AspectRatio == "" {
		req.AspectRatio = document.DefaultAspectRatio
	}
	if !document.ValidAspectRatio(req.AspectRatio) {
		s.fail(w, r, fmt.Errorf("%w: 不支持的宽高比 %s", errBadRequest, req.AspectRatio))
		return
	}
	format, err := document.NormalizeFormat(req.OutputFormat)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, open := s.sessions[req.ID]; open {
		http.Error(w, "文档已存在", http.StatusConflict)
		return
	}
	if _, err := s.repo.Load(r.Context(), req.ID); err == nil {
		http.Error(w, "文档已存在", http.StatusConflict)
		return
	}
	doc := document.New(req.AspectRatio, format)
	if err := s.repo.Save(r.Context(), req.ID, doc); err != nil {
		s.fail(w, r, err)
		return
	}
	store := s.newStore(doc)
	s.sessions[req.ID] = store
	s.log.Info("创建文档", zap.String("id", req.ID), zap.String("ratio", req.AspectRatio))
	writeJSON(w, http.StatusCreated, state(req.ID, store))
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(id string, store *editor.Store) error {
		writeJSON(w, http.StatusOK, state(id, store))
		return nil
	})
}

// putDocument replaces the session with the posted document and clears its history.
func (s *Server) putDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := document.Decode(r.Body)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	s.mu.Lock()
	store, ok := s.sessions[id]
	if !ok {
		store = s.newStore(doc)
		s.sessions[id] = store
	}
	s.mu.Unlock()
	if ok {
		store.Replace(doc)
	}
	writeJSON(w, http.StatusOK, state(id, store))
}

// saveDocument persists the session. A failed save leaves the session untouched.
func (s *Server) saveDocument(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(id string, store *editor.Store) error {
		if err := s.repo.Save(r.Context(), id, store.Document()); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

func (s *Server) setOutput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AspectRatio  string `json:"aspectRatio"`
		OutputFormat string `json:"outputFormat"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.SetOutput(req.AspectRatio, req.OutputFormat)
	})
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		store.Undo()
		return nil
	})
}

func (s *Server) redo(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		store.Redo()
		return nil
	})
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.SetActiveSlide(req.Index)
	})
}

func (s *Server) selectElement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Additive bool   `json:"additive"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.Select(req.ID, req.Additive)
	})
}

func (s *Server) clearSelection(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		store.ClearSelection()
		return nil
	})
}

func (s *Server) deleteSelected(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		_, err := store.DeleteSelected()
		return err
	})
}

func (s *Server) groupSelected(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		_, err := store.GroupSelected(req.Name)
		return err
	})
}

func (s *Server) reorder(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		switch op := mux.Vars(r)["op"]; op {
		case "front":
			return store.BringToFront()
		case "back":
			return store.SendToBack()
		case "forward":
			return store.StepForward()
		case "backward":
			return store.StepBackward()
		default:
			return fmt.Errorf("%w: 未知的层级操作 %s", errBadRequest, op)
		}
	})
}

func (s *Server) bulkClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       bool `json:"text"`
		Background bool `json:"background"`
		Overlays   bool `json:"overlays"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.BulkClear(editor.ClearOptions{Text: req.Text, Background: req.Background, Overlays: req.Overlays})
	})
}

func (s *Server) dirty(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(_ string, store *editor.Store) error {
		writeJSON(w, http.StatusOK, map[string]any{"dirty": store.Dirty()})
		return nil
	})
}

type failureResponse struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type exportResponse struct {
	Rendered  []int             `json:"rendered"`
	Failed    []failureResponse `json:"failed"`
	Published []int             `json:"published"`
	URL       string            `json:"url,omitempty"`
}

func (s *Server) exportDirty(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(id string, store *editor.Store) error {
		res, err := s.exporter.ExportDirty(r.Context(), store, id)
		if err != nil {
			return err
		}
		resp := exportResponse{
			Rendered:  res.Rendered,
			Failed:    []failureResponse{},
			Published: res.Published,
			URL:       res.URL,
		}
		for _, f := range res.Failed {
			resp.Failed = append(resp.Failed, failureResponse{Index: f.Index, Error: f.Err.Error()})
		}
		writeJSON(w, http.StatusOK, resp)
		return nil
	})
}

func (s *Server) bundle(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(id string, store *editor.Store) error {
		doc := store.Document()
		format := r.URL.Query().Get("format")
		if format == "" {
			format = doc.OutputFormat
		}
		format, err := document.NormalizeFormat(format)
		if err != nil {
			return fmt.Errorf("%w: %w", errBadRequest, err)
		}
		data, err := s.exporter.Bundle(r.Context(), doc, format)
		if err != nil {
			return err
		}
		name, contentType := id+".zip", "application/zip"
		if format == document.FormatPDF {
			name, contentType = id+".pdf", "application/pdf"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		_, _ = w.Write(data)
		return nil
	})
}

func (s *Server) addSlide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At *int `json:"at"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		at := store.SlideCount()
		if req.At != nil {
			at = *req.At
		}
		_, err := store.AddSlide(at)
		return err
	})
}

func (s *Server) moveSlide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.MoveSlide(req.From, req.To)
	})
}

func (s *Server) getSlide(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(_ string, store *editor.Store) error {
		slide, err := store.Slide(slideIndex(r))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, slide)
		return nil
	})
}

func (s *Server) deleteSlide(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		return store.DeleteSlide(slideIndex(r))
	})
}

func (s *Server) duplicateSlide(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		_, err := store.DuplicateSlide(slideIndex(r))
		return err
	})
}

func (s *Server) resetSlide(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		return store.ResetSlide(slideIndex(r))
	})
}

func (s *Server) setBackground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color  string  `json:"color"`
		Image  string  `json:"image"`
		Prompt *string `json:"prompt"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		i := slideIndex(r)
		switch {
		case req.Color != "":
			if err := store.SetBackgroundColor(i, req.Color); err != nil {
				return err
			}
		case req.Image != "":
			if err := store.SetBackgroundImage(i, req.Image); err != nil {
				return err
			}
		}
		if req.Prompt != nil {
			return store.SetBackgroundPrompt(i, *req.Prompt)
		}
		return nil
	})
}

// clearBackground removes the whole background, or only the colour with ?only=color.
func (s *Server) clearBackground(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		if r.URL.Query().Get("only") == "color" {
			return store.ClearBackgroundColor(slideIndex(r))
		}
		return store.ClearBackground(slideIndex(r))
	})
}

func (s *Server) setTint(w http.ResponseWriter, r *http.Request) {
	var tint *document.Tint
	if err := decode(r, &tint); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.SetTint(slideIndex(r), tint)
	})
}

type generateRequest struct {
	Target editor.AssetTarget `json:"target"`
	Prompt string             `json:"prompt"`
}

// generate starts an asset generation and replies immediately. The result is written
// back to the slide with the same id, wherever it has moved in the meantime.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Target == "" {
		req.Target = editor.AssetBackground
	}
	s.withStore(w, r, func(id string, store *editor.Store) error {
		if s.generator == nil {
			return errNoGenerator
		}
		i := slideIndex(r)
		slide, err := store.Slide(i)
		if err != nil {
			return err
		}
		prompt := req.Prompt
		if prompt == "" && req.Target == editor.AssetBackground {
			prompt = slide.BackgroundPrompt
		}
		if prompt == "" {
			return fmt.Errorf("%w: 提示词不能为空", errBadRequest)
		}
		if req.Target == editor.AssetBackground && prompt != slide.BackgroundPrompt {
			if err := store.SetBackgroundPrompt(i, prompt); err != nil {
				return err
			}
		}

		ratio := store.AspectRatio()
		ctx := context.WithoutCancel(r.Context())
		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			url, err := s.generator.Generate(ctx, prompt, ratio)
			res := editor.AssetResult{SlideID: slide.ID, Target: req.Target, URL: url, Err: err}
			if _, err := store.ApplyGeneratedAsset(i, res); err != nil {
				s.log.Warn("素材未写回", zap.String("document", id), zap.String("slide", slide.ID), zap.Error(err))
				return
			}
			s.log.Info("素材已写回", zap.String("document", id), zap.String("slide", slide.ID), zap.String("url", url))
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"slideId": slide.ID, "target": string(req.Target)})
		return nil
	})
}

func (s *Server) addText(w http.ResponseWriter, r *http.Request) {
	var tb document.TextBlock
	if err := decode(r, &tb); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		_, err := store.AddTextBlock(slideIndex(r), tb)
		return err
	})
}

// updateText merges the posted JSON fields into the block.
func (s *Server) updateText(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		var perr error
		err := store.UpdateTextBlock(slideIndex(r), mux.Vars(r)["eid"], func(tb *document.TextBlock) {
			next := tb.Clone()
			if perr = json.Unmarshal(patch, &next); perr == nil {
				*tb = next
			}
		})
		if perr != nil {
			return fmt.Errorf("%w: %v", errBadRequest, perr)
		}
		return err
	})
}

func (s *Server) deleteText(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		return store.DeleteTextBlock(slideIndex(r), mux.Vars(r)["eid"])
	})
}

func (s *Server) setMarkup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.SetTextMarkup(slideIndex(r), mux.Vars(r)["eid"], req.Text)
	})
}

// textLayout returns the line breaks the export engine computes for one block.
func (s *Server) textLayout(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(_ string, store *editor.Store) error {
		i := slideIndex(r)
		slide, err := store.Slide(i)
		if err != nil {
			return err
		}
		eid := mux.Vars(r)["eid"]
		k := slide.TextIndex(eid)
		if k < 0 {
			return fmt.Errorf("%w: %s", editor.ErrElementNotFound, eid)
		}
		tb := slide.TextBlocks[k]
		cw, _ := document.Canvas(store.AspectRatio())
		opts := tb.LayoutOptions(cw)
		lines, err := s.typesetter().LayoutSegments(tb.LayoutSegments(), opts)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, layout.DebugBlock{Slide: i, BlockID: tb.ID, Options: opts, Lines: lines})
		return nil
	})
}

func (s *Server) applyRegions(w http.ResponseWriter, r *http.Request) {
	var regions []map[string]any
	if err := decode(r, &regions); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		_, err := store.ApplyTextRegions(slideIndex(r), regions)
		return err
	})
}

func (s *Server) addOverlay(w http.ResponseWriter, r *http.Request) {
	// 请求未给出 opacity 时默认完全不透明。
	ov := document.Overlay{Opacity: 1}
	if err := decode(r, &ov); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		_, err := store.AddOverlay(slideIndex(r), ov)
		return err
	})
}

func (s *Server) updateOverlay(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		var perr error
		err := store.UpdateOverlay(slideIndex(r), mux.Vars(r)["eid"], func(ov *document.Overlay) {
			next := *ov
			if perr = json.Unmarshal(patch, &next); perr == nil {
				*ov = next
			}
		})
		if perr != nil {
			return fmt.Errorf("%w: %v", errBadRequest, perr)
		}
		return err
	})
}

func (s *Server) deleteOverlay(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		return store.DeleteOverlay(slideIndex(r), mux.Vars(r)["eid"])
	})
}

func (s *Server) translate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.edit(w, r, func(store *editor.Store) error {
		return store.Translate(slideIndex(r), mux.Vars(r)["eid"], req.DX, req.DY)
	})
}

func (s *Server) ungroup(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(store *editor.Store) error {
		return store.Ungroup(slideIndex(r), mux.Vars(r)["gid"])
	})
}

// previewSlide draws the low-fidelity thumbnail, ?scale= between 0 and 1.
func (s *Server) previewSlide(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(_ string, store *editor.Store) error {
		slide, err := store.Slide(slideIndex(r))
		if err != nil {
			return err
		}
		scale := defaultPreviewScale
		if v := r.URL.Query().Get("scale"); v != "" {
			if scale, err = strconv.ParseFloat(v, 64); err != nil {
				return fmt.Errorf("%w: scale %q", errBadRequest, v)
			}
		}
		img, err := s.preview.Thumbnail(r.Context(), slide, store.AspectRatio(), scale, s.fetcher)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return err
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
		return nil
	})
}

// renderSlide renders one slide at full size in the document's output format, or ?format=.
func (s *Server) renderSlide(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(_ string, store *editor.Store) error {
		doc := store.Document()
		i := slideIndex(r)
		if i < 0 || i >= len(doc.Slides) {
			return fmt.Errorf("%w: %d", editor.ErrSlideIndex, i)
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = doc.OutputFormat
		}
		format, err := document.NormalizeFormat(format)
		if err != nil {
			return fmt.Errorf("%w: %w", errBadRequest, err)
		}
		data, err := s.renderer.RenderSlide(r.Context(), doc.Slides[i], renderer.RenderOptions{
			AspectRatio: doc.AspectRatio,
			Format:      format,
		})
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", contentTypes[format])
		_, _ = w.Write(data)
		return nil
	})
}

var contentTypes = map[string]string{
	document.FormatPNG:  "image/png",
	document.FormatJPEG: "image/jpeg",
	document.FormatPDF:  "application/pdf",
}
