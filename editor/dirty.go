package editor

import (
	"sort"

	"github.com/ByLCY/carousel/document"
)

// Snapshot 是导出时读取的一组幻灯片的一致副本。
type Snapshot struct {
	AspectRatio  string
	OutputFormat string
	Entries      []SnapshotEntry
}

// SnapshotEntry 是一张幻灯片的快照。
type SnapshotEntry struct {
	Index    int
	Slide    document.Slide
	revision uint64
}

// Indices 返回快照包含的下标。
func (s Snapshot) Indices() []int {
	out := make([]int, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Index
	}
	return out
}

// Subset 返回只包含给定下标的快照，用于只发布渲染成功的幻灯片。
func (s Snapshot) Subset(indices []int) Snapshot {
	keep := make(map[int]bool, len(indices))
	for _, i := range indices {
		keep[i] = true
	}
	out := Snapshot{AspectRatio: s.AspectRatio, OutputFormat: s.OutputFormat}
	for _, e := range s.Entries {
		if keep[e.Index] {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

func (s *Store) markDirty(i int) {
	s.rev++
	s.dirty[i] = s.rev
}

// Dirty 返回需要重新导出的幻灯片下标（升序）。
func (s *Store) Dirty() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.dirty))
	for i := range s.dirty {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// MarkDirty 手动把幻灯片标记为待导出。
func (s *Store) MarkDirty(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.markDirty(i)
	return nil
}

// ExportSnapshot 复制给定下标的幻灯片；indices 为空时取全部待导出的幻灯片。
// 越界的下标会被忽略。
func (s *Store) ExportSnapshot(indices []int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(indices) == 0 {
		for i := range s.dirty {
			indices = append(indices, i)
		}
		sort.Ints(indices)
	}
	snap := Snapshot{AspectRatio: s.doc.AspectRatio, OutputFormat: s.doc.OutputFormat}
	seen := map[int]bool{}
	for _, i := range indices {
		if i < 0 || i >= len(s.doc.Slides) || seen[i] {
			continue
		}
		seen[i] = true
		snap.Entries = append(snap.Entries, SnapshotEntry{
			Index:    i,
			Slide:    s.doc.Slides[i].Clone(),
			revision: s.dirty[i],
		})
	}
	return snap
}

// MarkPublished 清除快照中幻灯片的待导出标记。快照之后又被修改过的幻灯片保持标记。
// 返回实际被清除的下标。
func (s *Store) MarkPublished(snap Snapshot) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared []int
	for _, e := range snap.Entries {
		rev, ok := s.dirty[e.Index]
		if !ok {
			continue
		}
		if rev != e.revision {
			continue
		}
		if e.Index >= len(s.doc.Slides) || s.doc.Slides[e.Index].ID != e.Slide.ID {
			continue
		}
		delete(s.dirty, e.Index)
		cleared = append(cleared, e.Index)
	}
	return cleared
}
