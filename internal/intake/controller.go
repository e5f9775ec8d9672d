package intake

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrUnmounted is returned by ingestions against a controller that is not
// mounted, or that was unmounted before the ingestion could commit.
var ErrUnmounted = errors.New("intake: controller unmounted")

// Config is the embedding host's view of an upload widget.
type Config struct {
	Policy Policy
	// PasteScope restricts window-level pastes to targets inside this element.
	PasteScope Element
	// WindowPaste attaches a page-level paste listener while mounted.
	WindowPaste bool
	// OnAccepted receives the files newly accepted by each ingestion.
	OnAccepted func(ctx context.Context, files []File)
	Reporter   Reporter
}

type Params struct {
	Config    Config
	Collector *Collector
	Logger    *zap.Logger
	Recorder  Recorder
}

// Outcome describes what one ingestion did.
type Outcome struct {
	Accepted []File
	Rejected []Rejection
	Report   *Report
}

// Controller owns one widget's selection. Ingestions commit one at a time in
// the order they started; collection, which may wait on the network, overlaps.
type Controller struct {
	cfg        Config
	classifier *Classifier
	collector  *Collector
	logger     *zap.Logger
	recorder   Recorder

	mu        sync.Mutex
	selection []File
	dragging  bool
	mounted   bool
	epoch     uint64
	tail      chan struct{}
	detach    func()
}

// NewController validates the policy and builds an unmounted Controller.
func NewController(p Params) (*Controller, error) {
	if err := p.Config.Policy.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        p.Config,
		classifier: NewClassifier(p.Config.Policy),
		collector:  p.Collector,
		logger:     p.Logger,
		recorder:   p.Recorder,
	}
	if c.collector == nil {
		c.collector = NewCollector(CollectorParams{Logger: p.Logger})
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.cfg.Reporter == nil {
		c.cfg.Reporter = ReporterFunc(func(context.Context, Report) {})
	}

	done := make(chan struct{})
	close(done)
	c.tail = done
	return c, nil
}

// Policy returns the classification policy in force.
func (c *Controller) Policy() Policy {
	return c.cfg.Policy
}

// Mount activates the controller and, when configured, attaches the
// page-level paste listener to w. Mounting a mounted controller does nothing.
func (c *Controller) Mount(w *Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounted {
		return
	}
	c.mounted = true
	if c.cfg.WindowPaste && w != nil {
		c.detach = w.AddPasteListener(c.handleWindowPaste)
	}
}

// Unmount detaches listeners and drops the selection. Ingestions still in
// flight are discarded when they try to commit.
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return
	}
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	c.mounted = false
	c.epoch++
	c.selection = nil
	c.dragging = false
}

// Mounted reports whether the controller is active.
func (c *Controller) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

func (c *Controller) DragEnter() { c.setDragging(true) }
func (c *Controller) DragOver() { c.setDragging(true) }
func (c *Controller) DragLeave() { c.setDragging(false) }

// Dragging reports whether a drag is currently over the drop zone.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

func (c *Controller) setDragging(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = v
}

// Pick ingests the picker's selection and resets the picker.
func (c *Controller) Pick(ctx context.Context, in *PickerInput) (Outcome, error) {
	return c.ingest(ctx, SourcePicker, func(context.Context) ([]File, []Rejection) {
		return c.collector.FromPicker(in), nil
	})
}

// Drop ends the drag and ingests the drop payload.
func (c *Controller) Drop(ctx context.Context, ev DropEvent) (Outcome, error) {
	c.setDragging(false)
	return c.ingest(ctx, SourceDrop, func(ctx context.Context) ([]File, []Rejection) {
		return c.collector.FromDrop(ctx, ev, c.cfg.Policy.FetchLimit())
	})
}

// Paste ingests a paste aimed at the widget itself.
func (c *Controller) Paste(ctx context.Context, ev PasteEvent) (Outcome, error) {
	return c.ingest(ctx, SourcePaste, func(context.Context) ([]File, []Rejection) {
		return c.collector.FromPaste(ev), nil
	})
}

func (c *Controller) handleWindowPaste(ctx context.Context, ev PasteEvent) {
	files, ok := c.collector.FromWindowPaste(ev, c.cfg.PasteScope)
	if !ok || len(files) == 0 {
		return
	}
	if _, err := c.ingest(ctx, SourceWindowPaste, func(context.Context) ([]File, []Rejection) {
		return files, nil
	}); err != nil {
		c.logger.Debug("window paste not ingested", zap.Error(err))
	}
}

// Remove deletes the selection entry at index, shifting later entries down.
// An out-of-range index is a no-op and returns false.
func (c *Controller) Remove(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.selection) {
		return false
	}
	c.selection = slices.Delete(c.selection, index, index+1)
	return true
}

// Selection returns a copy of the accumulated accepted files.
func (c *Controller) Selection() []File {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.selection)
}

type collectFunc func(ctx context.Context) ([]File, []Rejection)

// ingest runs collect, then waits for every earlier ingestion to commit
// before classifying, reporting and appending. Unreachable references are
// reported ahead of classification rejections.
func (c *Controller) ingest(ctx context.Context, source Source, collect collectFunc) (Outcome, error) {
	ctx, span := otel.Tracer("mediadrop/intake").Start(ctx, "intake.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("intake.source", string(source)))

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return Outcome{}, ErrUnmounted
	}
	epoch := c.epoch
	prev := c.tail
	turn := make(chan struct{})
	c.tail = turn
	c.mu.Unlock()

	files, unreachable := collect(ctx)

	select {
	case <-prev:
	case <-ctx.Done():
		// Keep the chain intact for later ingestions.
		go func() {
			<-prev
			close(turn)
		}()
		c.recorder.ObserveBatch(string(source), "cancelled")
		return Outcome{}, ctx.Err()
	}
	defer close(turn)

	res := c.classifier.Classify(files)
	rejected := append(slices.Clone(unreachable), res.Rejected...)

	c.mu.Lock()
	if !c.mounted || c.epoch != epoch {
		c.mu.Unlock()
		c.recorder.ObserveBatch(string(source), "discarded")
		c.logger.Debug("ingestion discarded after unmount", zap.String("source", string(source)))
		return Outcome{}, ErrUnmounted
	}
	c.selection = append(c.selection, res.Accepted...)
	c.mu.Unlock()

	out := Outcome{Accepted: res.Accepted, Rejected: rejected}
	c.observe(source, out)
	span.SetAttributes(
		attribute.Int("intake.accepted", len(out.Accepted)),
		attribute.Int("intake.rejected", len(out.Rejected)),
	)

	if len(rejected) > 0 {
		report := NewReport(source, rejected)
		c.cfg.Reporter.Report(ctx, report)
		out.Report = &report
	}
	if len(res.Accepted) > 0 && c.cfg.OnAccepted != nil {
		c.cfg.OnAccepted(ctx, slices.Clone(res.Accepted))
	}
	return out, nil
}

func (c *Controller) observe(source Source, out Outcome) {
	for range out.Accepted {
		c.recorder.ObserveFile(string(source), "accepted", "")
	}
	for _, r := range out.Rejected {
		c.recorder.ObserveFile(string(source), "rejected", r.Reason.String())
	}

	result := "committed"
	if len(out.Accepted) == 0 && len(out.Rejected) == 0 {
		result = "empty"
	}
	c.recorder.ObserveBatch(string(source), result)

	if len(out.Rejected) > 0 {
		c.logger.Info("files rejected",
			zap.String("source", string(source)),
			zap.Int("accepted", len(out.Accepted)),
			zap.Int("rejected", len(out.Rejected)),
		)
	}
}
