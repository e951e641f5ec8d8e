package editor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/carousel/document"
)

func publishAll(t *testing.T, s *Store) {
	t.Helper()
	s.MarkPublished(s.ExportSnapshot(nil))
	require.Empty(t, s.Dirty())
}

func TestLoadedSlidesStartDirty(t *testing.T) {
	s := newTestStore(t, 3)
	assert.Equal(t, []int{0, 1, 2}, s.Dirty())
}

func TestMutationMarksOnlyThatSlide(t *testing.T) {
	s := newTestStore(t, 3)
	publishAll(t, s)

	require.NoError(t, s.SetBackgroundColor(1, "#333"))
	assert.Equal(t, []int{1}, s.Dirty())
}

func TestInsertDeleteMoveMarkShiftedIndices(t *testing.T) {
	s := newTestStore(t, 4)
	publishAll(t, s)

	_, err := s.AddSlide(1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, s.Dirty())
	publishAll(t, s)

	require.NoError(t, s.DeleteSlide(3))
	assert.Equal(t, []int{3}, s.Dirty())
	publishAll(t, s)

	require.NoError(t, s.MoveSlide(0, 2))
	assert.Equal(t, []int{0, 1, 2}, s.Dirty())
	publishAll(t, s)

	require.NoError(t, s.DeleteSlide(3))
	assert.Empty(t, s.Dirty())
}

func TestUndoMarksDifferingSlides(t *testing.T) {
	s := newTestStore(t, 3)
	require.NoError(t, s.SetBackgroundColor(2, "#444"))
	publishAll(t, s)

	require.True(t, s.Undo())
	assert.Equal(t, []int{2}, s.Dirty())
	publishAll(t, s)

	require.True(t, s.Redo())
	assert.Equal(t, []int{2}, s.Dirty())
}

func TestMarkPublishedKeepsSlidesEditedAfterSnapshot(t *testing.T) {
	s := newTestStore(t, 2)
	snap := s.ExportSnapshot(nil)
	require.Len(t, snap.Entries, 2)

	require.NoError(t, s.SetBackgroundColor(1, "#555"))
	cleared := s.MarkPublished(snap)
	assert.Equal(t, []int{0}, cleared)
	assert.Equal(t, []int{1}, s.Dirty())
}

func TestSnapshotIsDetached(t *testing.T) {
	s := newTestStore(t, 1)
	snap := s.ExportSnapshot([]int{0, 0, 7, -1})
	require.Len(t, snap.Entries, 1)
	snap.Entries[0].Slide.Background.Color = "#000"
	sl, _ := s.Slide(0)
	assert.Equal(t, "#FFFFFF", sl.Background.Color)
}

func TestSnapshotSubset(t *testing.T) {
	s := newTestStore(t, 3)
	snap := s.ExportSnapshot(nil)
	sub := snap.Subset([]int{0, 2})
	assert.Equal(t, []int{0, 2}, sub.Indices())
	s.MarkPublished(sub)
	assert.Equal(t, []int{1}, s.Dirty())
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	s := newTestStore(t, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				_, err := s.AddTextBlock(i, document.TextBlock{Text: "x"})
				assert.NoError(t, err)
				_ = s.ExportSnapshot(nil)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 4; i++ {
		sl, err := s.Slide(i)
		require.NoError(t, err)
		assert.Len(t, sl.TextBlocks, 25)
	}
}
