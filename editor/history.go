package editor

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/ByLCY/carousel/document"
)

// pushHistory 记录修改前的状态，超过上限时丢弃最旧的一步。
func (s *Store) pushHistory(e entry) {
	s.history = append(s.history, e)
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append([]entry(nil), s.history[over:]...)
	}
}

// CanUndo 判断是否还有可撤销的步骤。
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history) > 0
}

// CanRedo 判断是否还有可重做的步骤。
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.future) > 0
}

// Undo 恢复到上一步。没有历史时什么也不做并返回 false。
func (s *Store) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return false
	}
	prev := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.future = append(s.future, entry{slides: s.doc.Slides, active: s.active})
	s.restore("undo", prev)
	return true
}

// Redo 重新应用最近一次撤销的步骤。没有可重做的步骤时返回 false。
func (s *Store) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.future) == 0 {
		return false
	}
	next := s.future[len(s.future)-1]
	s.future = s.future[:len(s.future)-1]
	s.history = append(s.history, entry{slides: s.doc.Slides, active: s.active})
	s.restore("redo", next)
	return true
}

// restore 切换到 e 的内容。历史条目中的切片从不被原地修改，因此可以直接复用。
func (s *Store) restore(op string, e entry) {
	before := s.doc.Slides
	s.doc.Slides = e.slides
	s.active = e.active
	s.clampActive()
	s.selection = nil
	changed := s.markChanged(before, e.slides)
	s.log.Debug("历史切换", zap.String("op", op), zap.Ints("slides", changed))
}

// markChanged 把内容发生变化的下标标记为待导出，返回这些下标。
// 插入、删除、移动幻灯片时后续下标的内容都会不同，因此也会被标记。
func (s *Store) markChanged(before, after []document.Slide) []int {
	var changed []int
	for i := range after {
		if i >= len(before) || !reflect.DeepEqual(before[i], after[i]) {
			s.markDirty(i)
			changed = append(changed, i)
		}
	}
	for i := range s.dirty {
		if i >= len(after) {
			delete(s.dirty, i)
		}
	}
	return changed
}
