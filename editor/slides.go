package editor

import (
	"fmt"

	"github.com/ByLCY/carousel/document"
)

// AddSlide 在 at 处插入一张空白幻灯片并激活它；at 等于幻灯片数量时追加到末尾。
func (s *Store) AddSlide(at int) (document.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at < 0 || at > len(s.doc.Slides) {
		return document.Slide{}, fmt.Errorf("%w: %d", ErrSlideIndex, at)
	}
	slide := document.NewSlide()
	err := s.apply("add-slide", func(slides []document.Slide) ([]document.Slide, error) {
		return insertSlide(slides, at, slide.Clone()), nil
	})
	if err != nil {
		return document.Slide{}, err
	}
	s.active = at
	s.selection = nil
	return slide, nil
}

// DuplicateSlide 在 i 之后插入第 i 张幻灯片的副本。副本中的幻灯片、元素和分组使用新 id。
func (s *Store) DuplicateSlide(i int) (document.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return document.Slide{}, err
	}
	dup := reassignIDs(s.doc.Slides[i].Clone())
	err := s.apply("duplicate-slide", func(slides []document.Slide) ([]document.Slide, error) {
		return insertSlide(slides, i+1, dup.Clone()), nil
	})
	if err != nil {
		return document.Slide{}, err
	}
	s.active = i + 1
	s.selection = nil
	return dup, nil
}

// DeleteSlide 删除第 i 张幻灯片。只剩一张时拒绝删除。
func (s *Store) DeleteSlide(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	if len(s.doc.Slides) == 1 {
		return ErrLastSlide
	}
	active, sel := s.active, s.selection
	err := s.apply("delete-slide", func(slides []document.Slide) ([]document.Slide, error) {
		return append(slides[:i], slides[i+1:]...), nil
	})
	if err != nil {
		return err
	}
	s.selection = sel
	switch {
	case active > i:
		s.active = active - 1
	case active == i:
		s.selection = nil
	}
	s.clampActive()
	s.pruneSelection()
	return nil
}

// MoveSlide 把第 from 张幻灯片移动到 to 位置，激活下标随幻灯片移动。
func (s *Store) MoveSlide(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(from); err != nil {
		return err
	}
	if err := s.checkIndex(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	activeID, sel := s.doc.Slides[s.active].ID, s.selection
	err := s.apply("move-slide", func(slides []document.Slide) ([]document.Slide, error) {
		moved := slides[from]
		rest := append(slides[:from:from], slides[from+1:]...)
		return insertSlide(rest, to, moved), nil
	})
	if err != nil {
		return err
	}
	for i := range s.doc.Slides {
		if s.doc.Slides[i].ID == activeID {
			s.active = i
			break
		}
	}
	s.selection = sel
	s.pruneSelection()
	return nil
}

// ResetSlide 用 OriginalSlides 中 id 相同的初始内容替换第 i 张幻灯片。
func (s *Store) ResetSlide(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	id := s.doc.Slides[i].ID
	var original *document.Slide
	for k := range s.doc.OriginalSlides {
		if s.doc.OriginalSlides[k].ID == id {
			original = &s.doc.OriginalSlides[k]
			break
		}
	}
	if original == nil {
		return fmt.Errorf("%w: %s", ErrNoOriginal, id)
	}
	restored := original.Clone()
	return s.updateSlide("reset-slide", i, func(slide *document.Slide) error {
		*slide = restored
		return nil
	})
}

// SetBackgroundColor 设置纯色背景。已保存的背景图片引用保留，清除颜色后重新生效。
func (s *Store) SetBackgroundColor(i int, color string) error {
	if _, err := document.ParseColor(color); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("background-color", i, func(slide *document.Slide) error {
		slide.Background.Color = color
		return nil
	})
}

// SetBackgroundImage 设置背景图片并清除颜色，使图片成为生效的背景。
func (s *Store) SetBackgroundImage(i int, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("background-image", i, func(slide *document.Slide) error {
		setBackgroundImage(slide, ref)
		return nil
	})
}

func setBackgroundImage(slide *document.Slide, ref string) {
	slide.Background.Image = ref
	if ref != "" {
		slide.Background.Color = ""
	}
}

// ClearBackgroundColor 清除颜色；若仍保存着图片引用则图片重新成为背景。
func (s *Store) ClearBackgroundColor(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("clear-background-color", i, func(slide *document.Slide) error {
		slide.Background.Color = ""
		return nil
	})
}

// ClearBackground 同时清除颜色与图片，幻灯片背景变为空。
func (s *Store) ClearBackground(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("clear-background", i, func(slide *document.Slide) error {
		slide.Background = document.Background{}
		return nil
	})
}

// SetTint 设置图片背景上的着色层，tint 为 nil 时移除。
func (s *Store) SetTint(i int, tint *document.Tint) error {
	if tint != nil {
		if _, err := document.ParseColor(tint.Color); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("tint", i, func(slide *document.Slide) error {
		if tint == nil {
			slide.Tint = nil
			return nil
		}
		t := *tint
		slide.Tint = &t
		return nil
	})
}

// SetBackgroundPrompt 保存背景生成提示词。
func (s *Store) SetBackgroundPrompt(i int, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("background-prompt", i, func(slide *document.Slide) error {
		slide.BackgroundPrompt = prompt
		return nil
	})
}

// ClearOptions 选择批量清除的内容。
type ClearOptions struct {
	Text       bool
	Background bool
	Overlays   bool
}

// BulkClear 在所有幻灯片上清除选中的内容，作为一个历史步骤。
func (s *Store) BulkClear(opts ClearOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !opts.Text && !opts.Background && !opts.Overlays {
		return nil
	}
	return s.apply("bulk-clear", func(slides []document.Slide) ([]document.Slide, error) {
		for i := range slides {
			slide := &slides[i]
			if opts.Text {
				slide.TextBlocks = []document.TextBlock{}
			}
			if opts.Overlays {
				slide.Overlays = []document.Overlay{}
			}
			if opts.Background {
				slide.Background = document.Background{}
				slide.Tint = nil
			}
			slide.PruneGroups()
		}
		return slides, nil
	})
}

func insertSlide(slides []document.Slide, at int, slide document.Slide) []document.Slide {
	out := make([]document.Slide, 0, len(slides)+1)
	out = append(out, slides[:at]...)
	out = append(out, slide)
	return append(out, slides[at:]...)
}

// reassignIDs 为复制出的幻灯片生成新 id，并同步更新分组成员引用。
func reassignIDs(slide document.Slide) document.Slide {
	slide.ID = document.NewID()
	remap := map[string]string{}
	for i := range slide.TextBlocks {
		id := document.NewID()
		remap[slide.TextBlocks[i].ID] = id
		slide.TextBlocks[i].ID = id
	}
	for i := range slide.Overlays {
		id := document.NewID()
		remap[slide.Overlays[i].ID] = id
		slide.Overlays[i].ID = id
	}
	for i := range slide.Groups {
		slide.Groups[i].ID = document.NewID()
		for k, m := range slide.Groups[i].Members {
			if id, ok := remap[m.ID]; ok {
				slide.Groups[i].Members[k].ID = id
			}
		}
	}
	return slide
}
