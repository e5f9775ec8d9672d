package intake

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctrl     *Controller
	window   *Window
	notices  *Notices
	recorder *recordingRecorder

	mu       sync.Mutex
	accepted [][]File
}

func (h *harness) onAccepted(_ context.Context, files []File) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepted = append(h.accepted, files)
}

func (h *harness) acceptedCalls() [][]File {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

func newHarness(t *testing.T, cfg Config, resolver ReferenceResolver) *harness {
	t.Helper()
	h := &harness{window: NewWindow(), notices: &Notices{}, recorder: &recordingRecorder{}}
	if cfg.Policy.MaxImageBytes == 0 {
		cfg.Policy = DefaultPolicy()
	}
	cfg.OnAccepted = h.onAccepted
	cfg.Reporter = h.notices

	ctrl, err := NewController(Params{
		Config:    cfg,
		Collector: NewCollector(CollectorParams{Resolver: resolver}),
		Recorder:  h.recorder,
	})
	require.NoError(t, err)
	ctrl.Mount(h.window)
	h.ctrl = ctrl
	return h
}

func pick(t *testing.T, c *Controller, files ...File) Outcome {
	t.Helper()
	var in PickerInput
	require.True(t, in.Select(files))
	out, err := c.Pick(context.Background(), &in)
	require.NoError(t, err)
	return out
}

func names(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestController_OrderPreservation(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	pick(t, h.ctrl, candidate("prev.png", "image/png", 1))

	out := pick(t, h.ctrl,
		candidate("A.png", "image/png", 1),
		candidate("B.txt", "text/plain", 1),
		candidate("C.mp4", "video/mp4", 1),
	)

	assert.Equal(t, []string{"A.png", "C.mp4"}, names(out.Accepted))
	assert.Equal(t, []string{"prev.png", "A.png", "C.mp4"}, names(h.ctrl.Selection()))

	calls := h.acceptedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"A.png", "C.mp4"}, names(calls[1]), "callback gets only the new files")

	reports := h.notices.List()
	require.Len(t, reports, 1)
	assert.Equal(t, []Rejection{{Name: "B.txt", Reason: ReasonUnsupportedType}}, reports[0].Entries)
	assert.Equal(t, ReportTitle, reports[0].Title)
}

func TestController_CeilingBoundary(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxImageBytes = 5_000_000
	policy.MaxVideoBytes = 100_000_000
	h := newHarness(t, Config{Policy: policy}, nil)

	out := pick(t, h.ctrl, candidate("big.png", "image/png", 5_000_001))
	assert.Empty(t, out.Accepted)
	assert.Equal(t, []Rejection{{Name: "big.png", Reason: ReasonTooLarge}}, out.Rejected)
	require.NotNil(t, out.Report)

	out = pick(t, h.ctrl, candidate("ok.png", "image/png", 5_000_000))
	assert.Equal(t, []string{"ok.png"}, names(out.Accepted))
	assert.Nil(t, out.Report)
}

func TestController_TwoPickerEvents(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	pick(t, h.ctrl, candidate("one.png", "image/png", 1))
	pick(t, h.ctrl, candidate("two.png", "image/png", 1))

	calls := h.acceptedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"one.png"}, names(calls[0]))
	assert.Equal(t, []string{"two.png"}, names(calls[1]))
	assert.Equal(t, []string{"one.png", "two.png"}, names(h.ctrl.Selection()))
}

func TestController_NoCallbackOrReportWhenNothingToSay(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	out := pick(t, h.ctrl, candidate("x.exe", "application/octet-stream", 1))
	assert.Empty(t, out.Accepted)
	assert.Empty(t, h.acceptedCalls())
	assert.Len(t, h.notices.List(), 1)

	out, err := h.ctrl.Paste(context.Background(), PasteEvent{})
	require.NoError(t, err)
	assert.Nil(t, out.Report)
	assert.Len(t, h.notices.List(), 1)
	assert.Contains(t, h.recorder.batches, "paste:empty")
}

func TestController_RejectionsBatchedIntoOneReport(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	pick(t, h.ctrl,
		candidate("a.txt", "text/plain", 1),
		candidate("b.png", "image/png", 50*1024*1024),
		candidate("c.mov", "video/quicktime", 1),
	)

	reports := h.notices.List()
	require.Len(t, reports, 1)
	assert.Equal(t, "a.txt: unsupported file type\nb.png: file too large\nc.mov: unsupported file type", reports[0].Message())
	assert.Equal(t, SourcePicker, reports[0].Source)
}

func TestController_RemoveShifts(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	pick(t, h.ctrl,
		candidate("a.png", "image/png", 1),
		candidate("b.png", "image/png", 1),
		candidate("c.png", "image/png", 1),
	)
	callsBefore := len(h.acceptedCalls())

	assert.True(t, h.ctrl.Remove(1))
	assert.Equal(t, []string{"a.png", "c.png"}, names(h.ctrl.Selection()))

	// The same index now points at the entry that shifted into it.
	assert.True(t, h.ctrl.Remove(1))
	assert.Equal(t, []string{"a.png"}, names(h.ctrl.Selection()))

	assert.False(t, h.ctrl.Remove(1))
	assert.False(t, h.ctrl.Remove(-1))
	assert.Equal(t, []string{"a.png"}, names(h.ctrl.Selection()))
	assert.Len(t, h.acceptedCalls(), callsBefore, "removal never notifies")
}

func TestController_DropMixesFilesAndReferences(t *testing.T) {
	remote := NewFile("cat.png", "image/png", 3, SourceRemote, Bytes("cat"))
	res := &stubResolver{files: map[string]File{"https://host/_next/image?url=%2Fcat.png": remote}}
	h := newHarness(t, Config{}, res)

	h.ctrl.DragEnter()
	require.True(t, h.ctrl.Dragging())

	out, err := h.ctrl.Drop(context.Background(), DropEvent{Items: []DropItem{
		FileItem(candidate("local.gif", "image/gif", 1)),
		StringItem(MediaTypeURIList, "https://host/_next/image?url=%2Fcat.png\nhttps://host/gone.png"),
		FileItem(candidate("notes.txt", "text/plain", 1)),
	}})
	require.NoError(t, err)
	assert.False(t, h.ctrl.Dragging())

	assert.Equal(t, []string{"local.gif", "cat.png"}, names(out.Accepted))
	require.Len(t, h.notices.List(), 1)
	assert.Equal(t, []Rejection{
		{Name: "https://host/gone.png", Reason: ReasonUnreachable},
		{Name: "notes.txt", Reason: ReasonUnsupportedType},
	}, stripErrs(h.notices.List()[0].Entries))
}

func TestController_DropReadsUpToOwnPolicy(t *testing.T) {
	res := &stubResolver{files: map[string]File{}}
	policy := DefaultPolicy()
	policy.MaxVideoBytes = 300 * 1024 * 1024
	h := newHarness(t, Config{Policy: policy}, res)

	_, err := h.ctrl.Drop(context.Background(), DropEvent{Items: []DropItem{
		StringItem(MediaTypeURIList, "https://host/clip.mp4"),
	}})
	require.NoError(t, err)
	assert.Equal(t, []int64{policy.FetchLimit()}, res.limits)
}

func stripErrs(rs []Rejection) []Rejection {
	out := make([]Rejection, len(rs))
	for i, r := range rs {
		r.Err = nil
		out[i] = r
	}
	return out
}

func TestController_DragState(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	assert.False(t, h.ctrl.Dragging())
	h.ctrl.DragEnter()
	h.ctrl.DragOver()
	assert.True(t, h.ctrl.Dragging())
	h.ctrl.DragLeave()
	assert.False(t, h.ctrl.Dragging())
}

// gateResolver blocks every resolution until release is closed.
type gateResolver struct {
	started chan string
	release chan struct{}
	file    File
}

func (g *gateResolver) Resolve(ctx context.Context, uri string, _ int64) (File, error) {
	g.started <- uri
	<-g.release
	return g.file, nil
}

func TestController_UnmountDiscardsInFlight(t *testing.T) {
	gate := &gateResolver{
		started: make(chan string, 1),
		release: make(chan struct{}),
		file:    NewFile("late.png", "image/png", 1, SourceRemote, Bytes("x")),
	}
	h := newHarness(t, Config{}, gate)

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Drop(context.Background(), DropEvent{Items: []DropItem{
			StringItem(MediaTypeURIList, "https://x/late.png"),
		}})
		errc <- err
	}()

	<-gate.started
	h.ctrl.Unmount()
	close(gate.release)

	assert.ErrorIs(t, <-errc, ErrUnmounted)
	assert.Empty(t, h.ctrl.Selection())
	assert.Empty(t, h.acceptedCalls())
	assert.Contains(t, h.recorder.batches, "drop:discarded")

	// Remounting starts fresh and ingests normally.
	h.ctrl.Mount(h.window)
	pick(t, h.ctrl, candidate("fresh.png", "image/png", 1))
	assert.Equal(t, []string{"fresh.png"}, names(h.ctrl.Selection()))
}

func TestController_NotMounted(t *testing.T) {
	ctrl, err := NewController(Params{Config: Config{Policy: DefaultPolicy()}})
	require.NoError(t, err)

	_, err = ctrl.Paste(context.Background(), PasteEvent{Files: []File{candidate("a.png", "image/png", 1)}})
	assert.ErrorIs(t, err, ErrUnmounted)
	assert.Empty(t, ctrl.Selection())
}

func TestController_InvalidPolicy(t *testing.T) {
	_, err := NewController(Params{Config: Config{Policy: Policy{}}})
	assert.ErrorContains(t, err, "invalid intake policy")
}

func TestController_CommitsInArrivalOrder(t *testing.T) {
	gate := &gateResolver{
		started: make(chan string, 1),
		release: make(chan struct{}),
		file:    NewFile("slow.png", "image/png", 1, SourceRemote, Bytes("x")),
	}
	h := newHarness(t, Config{}, gate)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.ctrl.Drop(context.Background(), DropEvent{Items: []DropItem{
			StringItem(MediaTypeURIList, "https://x/slow.png"),
		}})
		assert.NoError(t, err)
	}()
	<-gate.started

	pickDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(pickDone)
		var in PickerInput
		in.Select([]File{candidate("fast.png", "image/png", 1)})
		_, err := h.ctrl.Pick(context.Background(), &in)
		assert.NoError(t, err)
	}()

	select {
	case <-pickDone:
		t.Fatal("later ingestion committed before the earlier one")
	default:
	}

	close(gate.release)
	wg.Wait()

	assert.Equal(t, []string{"slow.png", "fast.png"}, names(h.ctrl.Selection()))
	calls := h.acceptedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"slow.png"}, names(calls[0]))
	assert.Equal(t, []string{"fast.png"}, names(calls[1]))
}

func TestController_CancelledWhileWaitingKeepsChain(t *testing.T) {
	gate := &gateResolver{
		started: make(chan string, 1),
		release: make(chan struct{}),
		file:    NewFile("first.png", "image/png", 1, SourceRemote, Bytes("x")),
	}
	h := newHarness(t, Config{}, gate)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.Drop(context.Background(), DropEvent{Items: []DropItem{
			StringItem(MediaTypeURIList, "https://x/first.png"),
		}})
	}()
	<-gate.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ctrl.Paste(ctx, PasteEvent{Files: []File{candidate("dropped.png", "image/png", 1)}})
	assert.ErrorIs(t, err, context.Canceled)

	close(gate.release)
	<-done

	pick(t, h.ctrl, candidate("after.png", "image/png", 1))
	assert.Equal(t, []string{"first.png", "after.png"}, names(h.ctrl.Selection()))
}

func TestController_WindowPasteLifecycle(t *testing.T) {
	h := newHarness(t, Config{WindowPaste: true, PasteScope: "main/editor"}, nil)
	assert.Equal(t, 1, h.window.Listeners())

	h.ctrl.Mount(h.window)
	assert.Equal(t, 1, h.window.Listeners(), "remounting a mounted controller adds no listener")

	ctx := context.Background()
	h.window.DispatchPaste(ctx, PasteEvent{Target: "main/sidebar", Files: []File{candidate("out.png", "image/png", 1)}})
	assert.Empty(t, h.ctrl.Selection())

	h.window.DispatchPaste(ctx, PasteEvent{Target: "main/editor/body", Files: []File{candidate("in.png", "image/png", 1)}})
	sel := h.ctrl.Selection()
	require.Len(t, sel, 1)
	assert.Equal(t, SourceWindowPaste, sel[0].Source)

	h.ctrl.Unmount()
	assert.Equal(t, 0, h.window.Listeners())
	assert.Empty(t, h.ctrl.Selection())

	for i := 0; i < 3; i++ {
		h.ctrl.Mount(h.window)
		h.ctrl.Unmount()
	}
	assert.Equal(t, 0, h.window.Listeners(), "no listeners leak across remounts")
}

func TestController_WindowPasteDisabled(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	assert.Equal(t, 0, h.window.Listeners())
}
