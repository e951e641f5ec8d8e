package editor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/layout"
)

func newTestStore(t *testing.T, slides int) *Store {
	t.Helper()
	doc := document.New("4:5", "png")
	for len(doc.Slides) < slides {
		sl := document.NewSlide()
		doc.Slides = append(doc.Slides, sl)
		doc.OriginalSlides = append(doc.OriginalSlides, sl.Clone())
	}
	return New(doc, Options{})
}

func ids(order []document.ElementRef) []string {
	out := make([]string, len(order))
	for i, r := range order {
		out[i] = r.ID
	}
	return out
}

func TestNewWithNilDocument(t *testing.T) {
	s := New(nil, Options{})
	assert.Equal(t, 1, s.SlideCount())
	assert.Equal(t, []int{0}, s.Dirty())
	assert.False(t, s.CanUndo())
	assert.False(t, s.CanRedo())
}

func TestStoreCopiesInputDocument(t *testing.T) {
	doc := document.New("1:1", "png")
	s := New(doc, Options{})
	doc.Slides[0].Background.Color = "#000000"
	sl, err := s.Slide(0)
	require.NoError(t, err)
	assert.Equal(t, "#FFFFFF", sl.Background.Color)

	out := s.Document()
	out.Slides[0].Background.Color = "#123456"
	sl, _ = s.Slide(0)
	assert.Equal(t, "#FFFFFF", sl.Background.Color)
}

func TestDeleteLastSlideRejected(t *testing.T) {
	s := newTestStore(t, 1)
	err := s.DeleteSlide(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLastSlide))
	assert.Equal(t, 1, s.SlideCount())
	assert.False(t, s.CanUndo())

	err = s.DeleteSlide(3)
	assert.True(t, errors.Is(err, ErrSlideIndex))
}

func TestBackgroundColorWinsAndImageReturns(t *testing.T) {
	s := newTestStore(t, 1)
	require.NoError(t, s.SetBackgroundImage(0, "built-in:sunset"))
	sl, _ := s.Slide(0)
	assert.Equal(t, document.BackgroundImage, sl.Background.Kind())

	require.NoError(t, s.SetBackgroundColor(0, "#112233"))
	sl, _ = s.Slide(0)
	assert.Equal(t, document.BackgroundColor, sl.Background.Kind())
	assert.Equal(t, "built-in:sunset", sl.Background.Image)

	require.NoError(t, s.ClearBackgroundColor(0))
	sl, _ = s.Slide(0)
	assert.Equal(t, document.BackgroundImage, sl.Background.Kind())

	require.NoError(t, s.ClearBackground(0))
	sl, _ = s.Slide(0)
	assert.Equal(t, document.BackgroundNone, sl.Background.Kind())

	assert.Error(t, s.SetBackgroundColor(0, "nope"))
}

func TestTextBlockLifecycle(t *testing.T) {
	s := newTestStore(t, 1)
	id, err := s.AddTextBlock(0, document.TextBlock{Text: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.SetTextMarkup(0, id, "Save this for **later**"))
	sl, _ := s.Slide(0)
	tb := sl.TextBlocks[0]
	assert.Equal(t, "Save this for later", tb.Text)
	assert.Equal(t, []layout.Segment{{Text: "Save this for "}, {Text: "later", Bold: true}}, tb.Segments)
	assert.Equal(t, 48.0, tb.FontSize)
	assert.Equal(t, layout.AlignCenter, tb.Align)

	require.NoError(t, s.SetTextMarkup(0, id, "plain again"))
	sl, _ = s.Slide(0)
	assert.Nil(t, sl.TextBlocks[0].Segments)

	require.NoError(t, s.UpdateTextBlock(0, id, func(tb *document.TextBlock) {
		tb.ID = "hijack"
		tb.FontSize = 72
	}))
	sl, _ = s.Slide(0)
	assert.Equal(t, id, sl.TextBlocks[0].ID)
	assert.Equal(t, 72.0, sl.TextBlocks[0].FontSize)

	err = s.UpdateTextBlock(0, "missing", func(*document.TextBlock) {})
	assert.True(t, errors.Is(err, ErrElementNotFound))

	require.NoError(t, s.DeleteTextBlock(0, id))
	sl, _ = s.Slide(0)
	assert.Empty(t, sl.TextBlocks)
}

func TestNewElementsGoOnTop(t *testing.T) {
	s := newTestStore(t, 1)
	t1, _ := s.AddTextBlock(0, document.TextBlock{Text: "a"})
	o1, _ := s.AddOverlay(0, document.Overlay{Src: "x", Opacity: 1})
	t2, _ := s.AddTextBlock(0, document.TextBlock{Text: "b"})
	sl, _ := s.Slide(0)
	assert.Equal(t, []string{t1, o1, t2}, ids(sl.ZOrder()))
	assert.Equal(t, 1.0, sl.Overlays[0].Opacity)
}

func TestOverlayOpacityZeroIsKept(t *testing.T) {
	s := newTestStore(t, 1)
	_, err := s.AddOverlay(0, document.Overlay{Src: "x", Opacity: 0})
	require.NoError(t, err)
	_, err = s.AddOverlay(0, document.Overlay{Src: "y", Opacity: 3})
	require.NoError(t, err)
	sl, _ := s.Slide(0)
	assert.Equal(t, 0.0, sl.Overlays[0].Opacity)
	assert.Equal(t, 1.0, sl.Overlays[1].Opacity)
}

func TestSelection(t *testing.T) {
	s := newTestStore(t, 2)
	a, _ := s.AddTextBlock(0, document.TextBlock{Text: "a"})
	b, _ := s.AddOverlay(0, document.Overlay{Src: "x"})

	require.NoError(t, s.Select(a, false))
	require.NoError(t, s.Select(b, true))
	assert.Equal(t, []string{a, b}, s.Selection())

	require.NoError(t, s.Select(a, true))
	assert.Equal(t, []string{b}, s.Selection())

	require.NoError(t, s.Select(a, false))
	assert.Equal(t, []string{a}, s.Selection())

	assert.True(t, errors.Is(s.Select("missing", false), ErrElementNotFound))

	require.NoError(t, s.Select("", false))
	assert.Empty(t, s.Selection())

	require.NoError(t, s.Select(a, false))
	require.NoError(t, s.SetActiveSlide(1))
	assert.Empty(t, s.Selection())
	assert.True(t, errors.Is(s.SetActiveSlide(9), ErrSlideIndex))
}

func TestDeleteSelectedPrunesGroups(t *testing.T) {
	s := newTestStore(t, 1)
	a, _ := s.AddTextBlock(0, document.TextBlock{Text: "a"})
	b, _ := s.AddOverlay(0, document.Overlay{Src: "x"})
	c, _ := s.AddOverlay(0, document.Overlay{Src: "y"})

	require.NoError(t, s.Select(a, false))
	require.NoError(t, s.Select(b, true))
	_, err := s.GroupSelected("")
	require.NoError(t, err)

	require.NoError(t, s.Select(b, false))
	require.NoError(t, s.Select(c, true))
	_, err = s.GroupSelected("pair")
	require.NoError(t, err)

	sl, _ := s.Slide(0)
	require.Len(t, sl.Groups, 2)
	assert.Equal(t, "分组 1", sl.Groups[0].Name)

	require.NoError(t, s.Select(c, false))
	n, err := s.DeleteSelected()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, s.Selection())

	sl, _ = s.Slide(0)
	require.Len(t, sl.Groups, 1)
	assert.Equal(t, []document.ElementRef{{Kind: document.KindText, ID: a}, {Kind: document.KindOverlay, ID: b}}, sl.Groups[0].Members)

	require.NoError(t, s.DeleteTextBlock(0, a))
	sl, _ = s.Slide(0)
	assert.Empty(t, sl.Groups)
}

func TestGroupNeedsTwoMembers(t *testing.T) {
	s := newTestStore(t, 1)
	a, _ := s.AddTextBlock(0, document.TextBlock{Text: "a"})
	require.NoError(t, s.Select(a, false))
	_, err := s.GroupSelected("solo")
	assert.True(t, errors.Is(err, ErrNeedTwoMembers))
}

func TestTranslateMovesGroup(t *testing.T) {
	s := newTestStore(t, 1)
	a, _ := s.AddTextBlock(0, document.TextBlock{Text: "a", X: 10, Y: 10})
	b, _ := s.AddOverlay(0, document.Overlay{Src: "x", X: 50, Y: 50})
	c, _ := s.AddOverlay(0, document.Overlay{Src: "y", X: 0, Y: 0})

	require.NoError(t, s.Select(a, false))
	require.NoError(t, s.Select(b, true))
	gid, err := s.GroupSelected("g")
	require.NoError(t, err)

	require.NoError(t, s.Translate(0, b, 5, -120))
	sl, _ := s.Slide(0)
	assert.Equal(t, 15.0, sl.TextBlocks[0].X)
	assert.Equal(t, -110.0, sl.TextBlocks[0].Y)
	assert.Equal(t, 55.0, sl.Overlays[0].X)
	assert.Equal(t, c, sl.Overlays[1].ID)
	assert.Equal(t, 0.0, sl.Overlays[1].X)

	require.NoError(t, s.Ungroup(0, gid))
	require.NoError(t, s.Translate(0, a, 1, 1))
	sl, _ = s.Slide(0)
	assert.Equal(t, 16.0, sl.TextBlocks[0].X)
	assert.Equal(t, 55.0, sl.Overlays[0].X)

	assert.True(t, errors.Is(s.Ungroup(0, gid), ErrElementNotFound))
}

func TestSlideStructureOps(t *testing.T) {
	s := newTestStore(t, 3)
	doc := s.Document()
	first, second, third := doc.Slides[0].ID, doc.Slides[1].ID, doc.Slides[2].ID

	require.NoError(t, s.SetActiveSlide(2))
	require.NoError(t, s.MoveSlide(2, 0))
	doc = s.Document()
	assert.Equal(t, []string{third, first, second}, []string{doc.Slides[0].ID, doc.Slides[1].ID, doc.Slides[2].ID})
	assert.Equal(t, 0, s.ActiveSlide())

	added, err := s.AddSlide(1)
	require.NoError(t, err)
	assert.Equal(t, 4, s.SlideCount())
	assert.Equal(t, 1, s.ActiveSlide())
	got, _ := s.Slide(1)
	assert.Equal(t, added.ID, got.ID)

	_, err = s.AddSlide(10)
	assert.True(t, errors.Is(err, ErrSlideIndex))

	require.NoError(t, s.DeleteSlide(0))
	assert.Equal(t, 3, s.SlideCount())
	assert.Equal(t, 0, s.ActiveSlide())
}

func TestDuplicateSlideUsesFreshIDs(t *testing.T) {
	s := newTestStore(t, 1)
	a, _ := s.AddTextBlock(0, document.TextBlock{Text: "a"})
	b, _ := s.AddOverlay(0, document.Overlay{Src: "x"})
	require.NoError(t, s.Select(a, false))
	require.NoError(t, s.Select(b, true))
	_, err := s.GroupSelected("g")
	require.NoError(t, err)

	dup, err := s.DuplicateSlide(0)
	require.NoError(t, err)
	orig, _ := s.Slide(0)

	assert.NotEqual(t, orig.ID, dup.ID)
	assert.NotEqual(t, a, dup.TextBlocks[0].ID)
	assert.NotEqual(t, b, dup.Overlays[0].ID)
	require.Len(t, dup.Groups, 1)
	assert.Equal(t, dup.TextBlocks[0].ID, dup.Groups[0].Members[0].ID)
	assert.Equal(t, dup.Overlays[0].ID, dup.Groups[0].Members[1].ID)
	assert.Equal(t, 1, s.ActiveSlide())
}

func TestResetSlide(t *testing.T) {
	s := newTestStore(t, 1)
	_, err := s.AddTextBlock(0, document.TextBlock{Text: "edit"})
	require.NoError(t, err)
	require.NoError(t, s.SetBackgroundColor(0, "#000"))

	require.NoError(t, s.ResetSlide(0))
	sl, _ := s.Slide(0)
	assert.Empty(t, sl.TextBlocks)
	assert.Equal(t, "#FFFFFF", sl.Background.Color)

	_, err = s.AddSlide(1)
	require.NoError(t, err)
	assert.True(t, errors.Is(s.ResetSlide(1), ErrNoOriginal))
}

func TestBulkClear(t *testing.T) {
	s := newTestStore(t, 2)
	for i := 0; i < 2; i++ {
		_, err := s.AddTextBlock(i, document.TextBlock{Text: "a"})
		require.NoError(t, err)
		_, err = s.AddOverlay(i, document.Overlay{Src: "x"})
		require.NoError(t, err)
		require.NoError(t, s.SetBackgroundImage(i, "built-in:sunset"))
		require.NoError(t, s.SetTint(i, &document.Tint{Color: "#000", Opacity: 0.3}))
	}

	require.NoError(t, s.BulkClear(ClearOptions{Text: true, Background: true}))
	for i := 0; i < 2; i++ {
		sl, _ := s.Slide(i)
		assert.Empty(t, sl.TextBlocks)
		assert.Len(t, sl.Overlays, 1)
		assert.Equal(t, document.BackgroundNone, sl.Background.Kind())
		assert.Nil(t, sl.Tint)
	}

	require.True(t, s.Undo())
	sl, _ := s.Slide(1)
	assert.Len(t, sl.TextBlocks, 1)
	assert.Equal(t, "built-in:sunset", sl.Background.Image)
}

func TestBulkClearOnLoadedNilSlicesIsNoop(t *testing.T) {
	doc := &document.Document{
		AspectRatio: "1:1",
		Slides:      []document.Slide{{ID: "a", Background: document.Background{Color: "#FFFFFF"}}},
	}
	s := New(doc, Options{})
	s.MarkPublished(s.ExportSnapshot(nil))
	require.Empty(t, s.Dirty())

	require.NoError(t, s.BulkClear(ClearOptions{Text: true, Overlays: true}))
	assert.False(t, s.CanUndo())
	assert.Empty(t, s.Dirty())

	sl, err := s.Slide(0)
	require.NoError(t, err)
	assert.NotNil(t, sl.TextBlocks)
	assert.NotNil(t, sl.Groups)
}

func TestApplyTextRegions(t *testing.T) {
	s := newTestStore(t, 1)
	existing, _ := s.AddOverlay(0, document.Overlay{Src: "x"})
	n, err := s.ApplyTextRegions(0, []map[string]any{
		{"text": "Hook **line**", "x": 500.0, "fontSize": "64"},
		{"text": "   "},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sl, _ := s.Slide(0)
	require.Len(t, sl.TextBlocks, 1)
	tb := sl.TextBlocks[0]
	assert.Equal(t, "Hook line", tb.Text)
	assert.Equal(t, 100.0, tb.X)
	assert.Equal(t, 64.0, tb.FontSize)
	assert.Equal(t, []string{existing, tb.ID}, ids(sl.ZOrder()))

	n, err = s.ApplyTextRegions(0, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyGeneratedAsset(t *testing.T) {
	s := newTestStore(t, 2)
	target, _ := s.Slide(1)

	_, err := s.ApplyGeneratedAsset(1, AssetResult{Err: errors.New("provider down")})
	require.Error(t, err)
	sl, _ := s.Slide(1)
	assert.Equal(t, target, sl)
	assert.False(t, s.CanUndo())

	require.NoError(t, s.MoveSlide(1, 0))
	_, err = s.ApplyGeneratedAsset(1, AssetResult{SlideID: target.ID, Target: AssetBackground, URL: "https://cdn.example/bg.png"})
	require.NoError(t, err)
	sl, _ = s.Slide(0)
	assert.Equal(t, target.ID, sl.ID)
	assert.Equal(t, document.BackgroundImage, sl.Background.Kind())

	id, err := s.ApplyGeneratedAsset(0, AssetResult{Target: AssetOverlay, URL: "https://cdn.example/ov.png"})
	require.NoError(t, err)
	sl, _ = s.Slide(0)
	require.Len(t, sl.Overlays, 1)
	assert.Equal(t, id, sl.Overlays[0].ID)

	_, err = s.ApplyGeneratedAsset(0, AssetResult{SlideID: "gone", URL: "x"})
	assert.True(t, errors.Is(err, ErrElementNotFound))
}

func TestSetOutputMarksAllDirty(t *testing.T) {
	s := newTestStore(t, 3)
	snap := s.ExportSnapshot(nil)
	s.MarkPublished(snap)
	require.Empty(t, s.Dirty())

	require.NoError(t, s.SetOutput("9:16", "jpg"))
	assert.Equal(t, []int{0, 1, 2}, s.Dirty())
	assert.Equal(t, "9:16", s.AspectRatio())
	assert.Error(t, s.SetOutput("3:2", "png"))
	assert.Error(t, s.SetOutput("1:1", "gif"))
}
