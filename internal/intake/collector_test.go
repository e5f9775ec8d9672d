package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResolver resolves URIs from a table; unknown URIs fail. Optional delays
// let tests finish resolutions out of order.
type stubResolver struct {
	mu     sync.Mutex
	files  map[string]File
	delays map[string]time.Duration
	calls  []string
	limits []int64
}

func (s *stubResolver) Resolve(ctx context.Context, uri string, maxBytes int64) (File, error) {
	s.mu.Lock()
	s.calls = append(s.calls, uri)
	s.limits = append(s.limits, maxBytes)
	f, ok := s.files[uri]
	d := s.delays[uri]
	s.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return File{}, &FetchError{URI: uri, Err: ctx.Err()}
		}
	}
	if !ok {
		return File{}, &FetchError{URI: uri, Err: errors.New("unreachable")}
	}
	return f, nil
}

func TestElement_Contains(t *testing.T) {
	scope := Element("main/editor")

	assert.True(t, scope.Contains("main/editor"))
	assert.True(t, scope.Contains("main/editor/dropzone"))
	assert.False(t, scope.Contains("main/editorial"))
	assert.False(t, scope.Contains("main"))
	assert.False(t, scope.Contains(""))
	assert.False(t, Element("").Contains("main"))
}

func TestPickerInput_ResetAllowsReselect(t *testing.T) {
	var in PickerInput
	files := []File{candidate("a.png", "image/png", 1)}

	assert.True(t, in.Select(files))
	assert.False(t, in.Select(files), "same set without reset fires no change")

	assert.Len(t, in.Drain(), 1)
	assert.Empty(t, in.Value())

	assert.True(t, in.Select(files), "same set fires again after reset")
	assert.False(t, (&PickerInput{}).Select(nil))
}

func TestCollector_FromPickerDrains(t *testing.T) {
	c := NewCollector(CollectorParams{})
	var in PickerInput
	in.Select([]File{candidate("a.png", "image/png", 1), candidate("b.png", "image/png", 2)})

	files := c.FromPicker(&in)
	require.Len(t, files, 2)
	assert.Equal(t, "a.png", files[0].Name)
	assert.Equal(t, "b.png", files[1].Name)
	assert.Equal(t, SourcePicker, files[0].Source)
	assert.Empty(t, in.Value())
}

func TestCollector_FromWindowPasteScope(t *testing.T) {
	c := NewCollector(CollectorParams{})
	ev := PasteEvent{Target: "main/sidebar", Files: []File{candidate("a.png", "image/png", 1)}}

	files, ok := c.FromWindowPaste(ev, "main/editor")
	assert.False(t, ok)
	assert.Nil(t, files)

	files, ok = c.FromWindowPaste(ev, "")
	assert.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, SourceWindowPaste, files[0].Source)

	ev.Target = "main/editor/textarea"
	_, ok = c.FromWindowPaste(ev, "main/editor")
	assert.True(t, ok)
}

func TestCollector_FromPasteIgnoresScope(t *testing.T) {
	c := NewCollector(CollectorParams{})
	files := c.FromPaste(PasteEvent{Target: "anywhere", Files: []File{candidate("a.png", "image/png", 1)}})
	require.Len(t, files, 1)
	assert.Equal(t, SourcePaste, files[0].Source)
}

func TestCollector_FromDropKeepsOrderAndSkipsFailures(t *testing.T) {
	remoteA := NewFile("cat.png", "image/png", 3, SourceRemote, Bytes("cat"))
	remoteB := NewFile("dog.png", "image/png", 3, SourceRemote, Bytes("dog"))
	res := &stubResolver{
		files: map[string]File{
			"https://x/cat.png": remoteA,
			"https://x/dog.png": remoteB,
		},
		// The first URI finishes last.
		delays: map[string]time.Duration{"https://x/cat.png": 30 * time.Millisecond},
	}
	c := NewCollector(CollectorParams{Resolver: res, Concurrency: 4})

	local := candidate("local.webp", "image/webp", 1)
	ev := DropEvent{Items: []DropItem{
		StringItem(MediaTypeURIList, "# dragged from browser\nhttps://x/cat.png\r\nhttps://x/broken.png\n"),
		FileItem(local),
		StringItem("text/html", `<img src="https://x/ignored.png">`),
		StringItem(MediaTypeURIList, "https://x/dog.png"),
	}}

	files, rejected := c.FromDrop(context.Background(), ev, 0)

	require.Len(t, files, 3)
	assert.Equal(t, remoteA.ID, files[0].ID)
	assert.Equal(t, local.ID, files[1].ID)
	assert.Equal(t, SourceDrop, files[1].Source)
	assert.Equal(t, remoteB.ID, files[2].ID)

	require.Len(t, rejected, 1)
	assert.Equal(t, "https://x/broken.png", rejected[0].Name)
	assert.Equal(t, ReasonUnreachable, rejected[0].Reason)
	var ferr *FetchError
	assert.ErrorAs(t, rejected[0].Err, &ferr)

	assert.ElementsMatch(t, []string{"https://x/cat.png", "https://x/broken.png", "https://x/dog.png"}, res.calls)
}

func TestCollector_FromDropWithoutResolver(t *testing.T) {
	c := NewCollector(CollectorParams{})
	files, rejected := c.FromDrop(context.Background(), DropEvent{Items: []DropItem{
		StringItem(MediaTypeURIList, "https://x/cat.png"),
	}}, 0)
	assert.Empty(t, files)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, ErrUnsupportedScheme)
}

func TestParseURIList(t *testing.T) {
	got := ParseURIList("#comment\n\nhttps://a/1.png\r\n  https://a/2.png  \n# trailing")
	assert.Equal(t, []string{"https://a/1.png", "https://a/2.png"}, got)
	assert.Empty(t, ParseURIList(""))
}
