package editor

import (
	"fmt"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/markup"
)

// AddTextBlock 在第 i 张幻灯片上添加文本块，新块位于最上层。返回文本块 id。
func (s *Store) AddTextBlock(i int, tb document.TextBlock) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tb = tb.Clone()
	tb.ApplyDefaults()
	err := s.updateSlide("add-text", i, func(slide *document.Slide) error {
		if _, taken := slide.Find(tb.ID); taken {
			tb.ID = document.NewID()
		}
		tb.ZIndex = slide.NextZIndex()
		slide.TextBlocks = append(slide.TextBlocks, tb)
		return nil
	})
	if err != nil {
		return "", err
	}
	return tb.ID, nil
}

// UpdateTextBlock 用 fn 修改文本块。fn 不能修改 id。
func (s *Store) UpdateTextBlock(i int, id string, fn func(tb *document.TextBlock)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("update-text", i, func(slide *document.Slide) error {
		k := slide.TextIndex(id)
		if k < 0 {
			return fmt.Errorf("%w: %s", ErrElementNotFound, id)
		}
		fn(&slide.TextBlocks[k])
		slide.TextBlocks[k].ID = id
		return nil
	})
}

// SetTextMarkup 把带 **加粗** 标记的文本写入文本块。
// 混合粗细时保存片段；整段加粗时保存一个加粗片段；否则清空片段。
func (s *Store) SetTextMarkup(i int, id, text string) error {
	segs := markup.Parse(text)
	plain := markup.PlainText(segs)
	return s.UpdateTextBlock(i, id, func(tb *document.TextBlock) {
		tb.Text = plain
		switch {
		case document.Mixed(segs):
			tb.Segments = segs
		case len(segs) == 1 && segs[0].Bold:
			tb.Segments = segs
		default:
			tb.Segments = nil
		}
	})
}

// DeleteTextBlock 删除文本块并解除其分组成员关系。
func (s *Store) DeleteTextBlock(i int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("delete-text", i, func(slide *document.Slide) error {
		k := slide.TextIndex(id)
		if k < 0 {
			return fmt.Errorf("%w: %s", ErrElementNotFound, id)
		}
		slide.TextBlocks = append(slide.TextBlocks[:k], slide.TextBlocks[k+1:]...)
		slide.PruneGroups()
		return nil
	})
}

// AddOverlay 在第 i 张幻灯片上添加叠加图片，新图片位于最上层。返回图片 id。
func (s *Store) AddOverlay(i int, ov document.Overlay) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addOverlay(i, ov)
}

func (s *Store) addOverlay(i int, ov document.Overlay) (string, error) {
	ov.ApplyDefaults()
	err := s.updateSlide("add-overlay", i, func(slide *document.Slide) error {
		if _, taken := slide.Find(ov.ID); taken {
			ov.ID = document.NewID()
		}
		ov.ZIndex = slide.NextZIndex()
		slide.Overlays = append(slide.Overlays, ov)
		return nil
	})
	if err != nil {
		return "", err
	}
	return ov.ID, nil
}

// UpdateOverlay 用 fn 修改叠加图片。fn 不能修改 id。
func (s *Store) UpdateOverlay(i int, id string, fn func(ov *document.Overlay)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("update-overlay", i, func(slide *document.Slide) error {
		k := slide.OverlayIndex(id)
		if k < 0 {
			return fmt.Errorf("%w: %s", ErrElementNotFound, id)
		}
		fn(&slide.Overlays[k])
		slide.Overlays[k].ID = id
		return nil
	})
}

// DeleteOverlay 删除叠加图片并解除其分组成员关系。
func (s *Store) DeleteOverlay(i int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("delete-overlay", i, func(slide *document.Slide) error {
		k := slide.OverlayIndex(id)
		if k < 0 {
			return fmt.Errorf("%w: %s", ErrElementNotFound, id)
		}
		slide.Overlays = append(slide.Overlays[:k], slide.Overlays[k+1:]...)
		slide.PruneGroups()
		return nil
	})
}

// DeleteSelected 在一个历史步骤内删除激活幻灯片上所有选中的元素，返回删除数量。
func (s *Store) DeleteSelected() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.selectedRefs()
	if len(refs) == 0 {
		return 0, nil
	}
	err := s.updateSlide("delete-selected", s.active, func(slide *document.Slide) error {
		for _, ref := range refs {
			removeElement(slide, ref)
		}
		slide.PruneGroups()
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.selection = nil
	return len(refs), nil
}

func removeElement(slide *document.Slide, ref document.ElementRef) {
	switch ref.Kind {
	case document.KindText:
		if k := slide.TextIndex(ref.ID); k >= 0 {
			slide.TextBlocks = append(slide.TextBlocks[:k], slide.TextBlocks[k+1:]...)
		}
	case document.KindOverlay:
		if k := slide.OverlayIndex(ref.ID); k >= 0 {
			slide.Overlays = append(slide.Overlays[:k], slide.Overlays[k+1:]...)
		}
	}
}

// Translate 把元素及与其同组的全部元素按相同的百分比位移移动。
// 位置不做限幅，拖动时的限幅由界面负责。
func (s *Store) Translate(i int, id string, dx, dy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("translate", i, func(slide *document.Slide) error {
		ref, ok := slide.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrElementNotFound, id)
		}
		for _, r := range append([]document.ElementRef{ref}, slide.GroupPeers(id)...) {
			moveElement(slide, r, dx, dy)
		}
		return nil
	})
}

func moveElement(slide *document.Slide, ref document.ElementRef, dx, dy float64) {
	switch ref.Kind {
	case document.KindText:
		if k := slide.TextIndex(ref.ID); k >= 0 {
			slide.TextBlocks[k].X += dx
			slide.TextBlocks[k].Y += dy
		}
	case document.KindOverlay:
		if k := slide.OverlayIndex(ref.ID); k >= 0 {
			slide.Overlays[k].X += dx
			slide.Overlays[k].Y += dy
		}
	}
}

// ApplyTextRegions 把外部识别出的文本区域逐条清洗后追加到幻灯片，返回实际添加的数量。
func (s *Store) ApplyTextRegions(i int, regions []map[string]any) (int, error) {
	blocks := document.SanitizeTextRegions(regions)
	if len(blocks) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.updateSlide("text-regions", i, func(slide *document.Slide) error {
		for _, tb := range blocks {
			tb.ZIndex = slide.NextZIndex()
			slide.TextBlocks = append(slide.TextBlocks, tb)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(blocks), nil
}

// AssetTarget 表示生成素材的用途。
type AssetTarget string

const (
	AssetBackground AssetTarget = "background"
	AssetOverlay    AssetTarget = "overlay"
)

// AssetResult 是一次异步素材生成的结果。SlideID 非空时按 id 定位幻灯片，
// 以便在等待期间幻灯片被移动后仍能写回正确的位置。
type AssetResult struct {
	SlideID string
	Target  AssetTarget
	URL     string
	Err     error
}

// ApplyGeneratedAsset 把生成结果写回第 i 张幻灯片。失败的结果不修改文档并返回错误。
// 叠加图片结果返回新图片的 id。
func (s *Store) ApplyGeneratedAsset(i int, res AssetResult) (string, error) {
	if res.Err != nil {
		return "", fmt.Errorf("素材生成失败: %w", res.Err)
	}
	if res.URL == "" {
		return "", fmt.Errorf("素材生成失败: 结果缺少地址")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.SlideID != "" {
		found := false
		for k := range s.doc.Slides {
			if s.doc.Slides[k].ID == res.SlideID {
				i, found = k, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("%w: 幻灯片 %s", ErrElementNotFound, res.SlideID)
		}
	}
	switch res.Target {
	case AssetOverlay:
		return s.addOverlay(i, document.Overlay{Src: res.URL, X: 30, Y: 30, Width: 40, Height: 40, Opacity: 1})
	default:
		return "", s.updateSlide("generated-background", i, func(slide *document.Slide) error {
			setBackgroundImage(slide, res.URL)
			return nil
		})
	}
}
