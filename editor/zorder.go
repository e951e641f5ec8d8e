package editor

import (
	"fmt"

	"github.com/ByLCY/carousel/document"
)

// GroupSelected 把激活幻灯片上选中的元素编为一组，至少需要两个元素。返回分组 id。
func (s *Store) GroupSelected(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.selectedRefs()
	if len(refs) < 2 {
		return "", ErrNeedTwoMembers
	}
	group := document.Group{ID: document.NewID(), Name: name, Members: refs}
	err := s.updateSlide("group", s.active, func(slide *document.Slide) error {
		if group.Name == "" {
			group.Name = fmt.Sprintf("分组 %d", len(slide.Groups)+1)
		}
		slide.Groups = append(slide.Groups, group)
		return nil
	})
	if err != nil {
		return "", err
	}
	return group.ID, nil
}

// Ungroup 解散分组，成员元素保持不变。
func (s *Store) Ungroup(i int, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlide("ungroup", i, func(slide *document.Slide) error {
		for k, g := range slide.Groups {
			if g.ID == groupID {
				slide.Groups = append(slide.Groups[:k], slide.Groups[k+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: 分组 %s", ErrElementNotFound, groupID)
	})
}

// z 序是每张幻灯片上所有元素共用的一条轴，文本块与叠加图片交错排列。
// 以下操作都作用于激活幻灯片上的选中元素，并把结果重新编号为 0..n-1。

// BringToFront 把选中元素移到最上层，保持它们之间的相对顺序。
func (s *Store) BringToFront() error {
	return s.reorder("bring-to-front", func(order []document.ElementRef, sel map[document.ElementRef]bool) []document.ElementRef {
		out := make([]document.ElementRef, 0, len(order))
		for _, r := range order {
			if !sel[r] {
				out = append(out, r)
			}
		}
		for _, r := range order {
			if sel[r] {
				out = append(out, r)
			}
		}
		return out
	})
}

// SendToBack 把选中元素移到最下层，保持它们之间的相对顺序。
func (s *Store) SendToBack() error {
	return s.reorder("send-to-back", func(order []document.ElementRef, sel map[document.ElementRef]bool) []document.ElementRef {
		out := make([]document.ElementRef, 0, len(order))
		for _, r := range order {
			if sel[r] {
				out = append(out, r)
			}
		}
		for _, r := range order {
			if !sel[r] {
				out = append(out, r)
			}
		}
		return out
	})
}

// StepForward 让每个选中元素与其上方最近的未选中元素交换位置。
func (s *Store) StepForward() error {
	return s.reorder("step-forward", func(order []document.ElementRef, sel map[document.ElementRef]bool) []document.ElementRef {
		for k := len(order) - 2; k >= 0; k-- {
			if sel[order[k]] && !sel[order[k+1]] {
				order[k], order[k+1] = order[k+1], order[k]
			}
		}
		return order
	})
}

// StepBackward 让每个选中元素与其下方最近的未选中元素交换位置。
func (s *Store) StepBackward() error {
	return s.reorder("step-backward", func(order []document.ElementRef, sel map[document.ElementRef]bool) []document.ElementRef {
		for k := 1; k < len(order); k++ {
			if sel[order[k]] && !sel[order[k-1]] {
				order[k], order[k-1] = order[k-1], order[k]
			}
		}
		return order
	})
}

func (s *Store) reorder(op string, fn func(order []document.ElementRef, sel map[document.ElementRef]bool) []document.ElementRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.selectedRefs()
	if len(refs) == 0 {
		return nil
	}
	sel := make(map[document.ElementRef]bool, len(refs))
	for _, r := range refs {
		sel[r] = true
	}
	return s.updateSlide(op, s.active, func(slide *document.Slide) error {
		slide.ApplyZOrder(fn(slide.ZOrder(), sel))
		return nil
	})
}
