// Package editor owns the in-memory carousel document. Every mutation goes through a
// Store, which records undo history, keeps the selection consistent and tracks which
// slides need to be exported again.
package editor

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/ByLCY/carousel/document"
)

// DefaultHistoryLimit 是默认保留的撤销步数。
const DefaultHistoryLimit = 50

var (
	ErrSlideIndex      = errors.New("editor: 幻灯片下标越界")
	ErrElementNotFound = errors.New("editor: 元素不存在")
	ErrLastSlide       = errors.New("editor: 至少需要保留一张幻灯片")
	ErrNeedTwoMembers  = errors.New("editor: 分组至少需要两个元素")
	ErrNoOriginal      = errors.New("editor: 幻灯片没有可恢复的原始内容")
)

// Options 配置 Store。
type Options struct {
	HistoryLimit int
	Logger       *zap.Logger
}

// Store 是文档的唯一写入口。所有操作在同一把锁下完整执行，
// 后台任务（导出、素材生成）完成时也通过同样的方法写回。
type Store struct {
	mu sync.Mutex

	doc       *document.Document
	active    int
	selection []string

	history []entry
	future  []entry
	limit   int

	// dirty 记录需要重新导出的幻灯片下标及其最后一次被标记时的修订号。
	dirty map[int]uint64
	rev   uint64

	log *zap.Logger
}

type entry struct {
	slides []document.Slide
	active int
}

// New 以 doc 的深拷贝创建 Store。doc 为 nil 或没有幻灯片时会创建一张空白幻灯片。
// 初始加载的全部幻灯片都视为需要导出。
func New(doc *document.Document, opts Options) *Store {
	s := &Store{
		limit: opts.HistoryLimit,
		dirty: map[int]uint64{},
		log:   opts.Logger,
	}
	if s.limit <= 0 {
		s.limit = DefaultHistoryLimit
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.load(doc)
	return s
}

// Replace 用新文档替换当前内容，清空历史与选择。
func (s *Store) Replace(doc *document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(doc)
}

func (s *Store) load(doc *document.Document) {
	if doc == nil {
		doc = document.New(document.DefaultAspectRatio, document.FormatPNG)
	} else {
		doc = doc.Clone()
	}
	// 空切片与 nil 在变更比较里视为不同，载入时先统一。
	doc.Normalize()
	if len(doc.Slides) == 0 {
		doc.Slides = []document.Slide{document.NewSlide()}
	}
	if doc.Version == 0 {
		doc.Version = document.CurrentVersion
	}
	s.doc = doc
	s.active = 0
	s.selection = nil
	s.history = nil
	s.future = nil
	s.dirty = map[int]uint64{}
	for i := range doc.Slides {
		s.markDirty(i)
	}
}

// Document 返回当前文档的深拷贝。
func (s *Store) Document() *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Slide 返回第 i 张幻灯片的深拷贝，读取结果是一次完整修改之后的一致状态。
func (s *Store) Slide(i int) (document.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return document.Slide{}, err
	}
	return s.doc.Slides[i].Clone(), nil
}

// SlideCount 返回幻灯片数量。
func (s *Store) SlideCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.Slides)
}

// AspectRatio 返回文档宽高比。
func (s *Store) AspectRatio() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.AspectRatio
}

// SetOutput 修改文档的宽高比和输出格式。宽高比变化会使全部幻灯片需要重新导出。
func (s *Store) SetOutput(aspectRatio, format string) error {
	f, err := document.NormalizeFormat(format)
	if err != nil {
		return err
	}
	if !document.ValidAspectRatio(aspectRatio) {
		return fmt.Errorf("不支持的宽高比：%s", aspectRatio)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.doc.AspectRatio != aspectRatio || s.doc.OutputFormat != f
	s.doc.AspectRatio = aspectRatio
	s.doc.OutputFormat = f
	if changed {
		for i := range s.doc.Slides {
			s.markDirty(i)
		}
	}
	return nil
}

// ActiveSlide 返回当前激活的幻灯片下标。
func (s *Store) ActiveSlide() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveSlide 切换激活幻灯片并清空选择。
func (s *Store) SetActiveSlide(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	if s.active != i {
		s.active = i
		s.selection = nil
	}
	return nil
}

// Selection 返回激活幻灯片上被选中的元素 id。
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selection...)
}

// Select 选中激活幻灯片上的元素。additive 为 true 时切换该元素的选中状态，
// 否则替换当前选择；id 为空时清空选择。选择变化不进入历史。
func (s *Store) Select(id string, additive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.selection = nil
		return nil
	}
	slide := &s.doc.Slides[s.active]
	if _, ok := slide.Find(id); !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	if !additive {
		s.selection = []string{id}
		return nil
	}
	for i, sel := range s.selection {
		if sel == id {
			s.selection = append(s.selection[:i:i], s.selection[i+1:]...)
			return nil
		}
	}
	s.selection = append(s.selection, id)
	return nil
}

// ClearSelection 清空选择。
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
}

func (s *Store) checkIndex(i int) error {
	if i < 0 || i >= len(s.doc.Slides) {
		return fmt.Errorf("%w: %d", ErrSlideIndex, i)
	}
	return nil
}

// apply 在幻灯片列表的副本上执行 fn。fn 失败时文档不变；内容没有变化时不记录历史。
// 调用方必须持有锁。
func (s *Store) apply(op string, fn func(slides []document.Slide) ([]document.Slide, error)) error {
	before := s.doc.Slides
	after, err := fn(document.CloneSlides(before))
	if err != nil {
		return err
	}
	if reflect.DeepEqual(before, after) {
		return nil
	}
	s.pushHistory(entry{slides: before, active: s.active})
	s.future = nil
	s.doc.Slides = after
	changed := s.markChanged(before, after)
	s.clampActive()
	s.pruneSelection()
	s.log.Debug("文档已修改", zap.String("op", op), zap.Ints("slides", changed))
	return nil
}

// updateSlide 是针对单张幻灯片的 apply。
func (s *Store) updateSlide(op string, i int, fn func(slide *document.Slide) error) error {
	return s.apply(op, func(slides []document.Slide) ([]document.Slide, error) {
		if i < 0 || i >= len(slides) {
			return nil, fmt.Errorf("%w: %d", ErrSlideIndex, i)
		}
		if err := fn(&slides[i]); err != nil {
			return nil, err
		}
		return slides, nil
	})
}

func (s *Store) clampActive() {
	if s.active >= len(s.doc.Slides) {
		s.active = len(s.doc.Slides) - 1
	}
	if s.active < 0 {
		s.active = 0
	}
}

// pruneSelection 移除已不在激活幻灯片上的选中项。
func (s *Store) pruneSelection() {
	if len(s.selection) == 0 {
		return
	}
	slide := &s.doc.Slides[s.active]
	kept := make([]string, 0, len(s.selection))
	for _, id := range s.selection {
		if _, ok := slide.Find(id); ok {
			kept = append(kept, id)
		}
	}
	s.selection = kept
}

func (s *Store) selectedRefs() []document.ElementRef {
	slide := &s.doc.Slides[s.active]
	refs := make([]document.ElementRef, 0, len(s.selection))
	for _, id := range s.selection {
		if ref, ok := slide.Find(id); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
