package intake

import (
	"bufio"
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MediaTypeURIList is the drop item type carrying URL references.
const MediaTypeURIList = "text/uri-list"

// ItemKind distinguishes file items from string items in a drop payload.
type ItemKind string

const (
	KindFile   ItemKind = "file"
	KindString ItemKind = "string"
)

// DropItem is one entry of a drop payload's item list.
type DropItem struct {
	Kind ItemKind
	Type string
	File File
	Text string
}

// FileItem wraps a dropped raw file.
func FileItem(f File) DropItem {
	return DropItem{Kind: KindFile, Type: f.MediaType, File: f}
}

// StringItem wraps a dropped string payload of the given type.
func StringItem(mediaType, text string) DropItem {
	return DropItem{Kind: KindString, Type: mediaType, Text: text}
}

// DropEvent is the payload of a drop.
type DropEvent struct {
	Items []DropItem
}

// Element is a slash-separated path identifying a page element, e.g. "main/editor/dropzone".
type Element string

// Contains reports whether target is e or a descendant of e.
func (e Element) Contains(target Element) bool {
	if e == "" || target == "" {
		return false
	}
	return target == e || strings.HasPrefix(string(target), string(e)+"/")
}

// PasteEvent is the payload of a clipboard paste.
type PasteEvent struct {
	Target Element
	Files  []File
}

// PickerInput models a multi-file input control. The platform only fires a
// change event when the selected set differs from the control's value, so the
// value is reset after every ingestion to let the same set be picked again.
type PickerInput struct {
	mu    sync.Mutex
	value []File
}

// Select sets the control's files and reports whether a change event fires.
func (p *PickerInput) Select(files []File) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(files) == 0 && len(p.value) == 0 {
		return false
	}
	if sameSelection(p.value, files) {
		return false
	}
	p.value = slices.Clone(files)
	return true
}

// Drain returns the selected files and resets the control's value.
func (p *PickerInput) Drain() []File {
	p.mu.Lock()
	defer p.mu.Unlock()
	files := p.value
	p.value = nil
	return files
}

// Value returns the currently selected files.
func (p *PickerInput) Value() []File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.value)
}

func sameSelection(a, b []File) bool {
	return slices.EqualFunc(a, b, func(x, y File) bool {
		return x.Name == y.Name && x.Size == y.Size && x.MediaType == y.MediaType
	})
}

// ReferenceResolver fetches a dropped reference, reading at most maxBytes+1
// bytes of content.
type ReferenceResolver interface {
	Resolve(ctx context.Context, uri string, maxBytes int64) (File, error)
}

// Collector normalizes raw input events into candidate files.
type Collector struct {
	resolver    ReferenceResolver
	concurrency int
	logger      *zap.Logger
}

// CollectorParams configures a Collector. A nil Resolver makes every URL reference unreachable.
type CollectorParams struct {
	Resolver    ReferenceResolver
	Concurrency int
	Logger      *zap.Logger
}

// NewCollector constructs a Collector.
func NewCollector(p CollectorParams) *Collector {
	c := &Collector{
		resolver:    p.Resolver,
		concurrency: p.Concurrency,
		logger:      p.Logger,
	}
	if c.concurrency <= 0 {
		c.concurrency = 4
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// FromPicker drains the picker's selection.
func (c *Collector) FromPicker(in *PickerInput) []File {
	return withSource(in.Drain(), SourcePicker)
}

// FromPaste takes every file of an element-scoped paste.
func (c *Collector) FromPaste(ev PasteEvent) []File {
	return withSource(ev.Files, SourcePaste)
}

// FromWindowPaste takes the files of a page-level paste. When scope is set,
// pastes targeting elements outside it are ignored and ok is false.
func (c *Collector) FromWindowPaste(ev PasteEvent, scope Element) (files []File, ok bool) {
	if scope != "" && !scope.Contains(ev.Target) {
		c.logger.Debug("paste outside scope ignored",
			zap.String("target", string(ev.Target)),
			zap.String("scope", string(scope)),
		)
		return nil, false
	}
	return withSource(ev.Files, SourceWindowPaste), true
}

// FromDrop normalizes a drop payload. File items pass through; each URI in a
// text/uri-list item is resolved. References that fail are returned as
// ReasonUnreachable rejections named by their URI and never stop sibling
// items. maxBytes caps the content read per reference. Both results keep item
// order.
func (c *Collector) FromDrop(ctx context.Context, ev DropEvent, maxBytes int64) ([]File, []Rejection) {
	type unit struct {
		file File
		uri  string
		err  error
	}
	var units []unit

	for _, item := range ev.Items {
		switch {
		case item.Kind == KindFile:
			f := item.File
			f.Source = SourceDrop
			units = append(units, unit{file: f})
		case item.Kind == KindString && strings.EqualFold(item.Type, MediaTypeURIList):
			for _, uri := range ParseURIList(item.Text) {
				units = append(units, unit{uri: uri})
			}
		default:
			c.logger.Debug("drop item ignored",
				zap.String("kind", string(item.Kind)),
				zap.String("type", item.Type),
			)
		}
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i := range units {
		if units[i].uri == "" {
			continue
		}
		g.Go(func() error {
			units[i].file, units[i].err = c.resolve(ctx, units[i].uri, maxBytes)
			return nil
		})
	}
	_ = g.Wait()

	var files []File
	var rejected []Rejection
	for _, u := range units {
		if u.err != nil {
			rejected = append(rejected, Rejection{Name: u.uri, Reason: ReasonUnreachable, Err: u.err})
			continue
		}
		files = append(files, u.file)
	}
	return files, rejected
}

func (c *Collector) resolve(ctx context.Context, uri string, maxBytes int64) (File, error) {
	if c.resolver == nil {
		return File{}, &FetchError{URI: uri, Err: ErrUnsupportedScheme}
	}
	f, err := c.resolver.Resolve(ctx, uri, maxBytes)
	if err != nil {
		c.logger.Warn("reference resolution failed", zap.String("uri", uri), zap.Error(err))
		return File{}, err
	}
	return f, nil
}

// ParseURIList splits a text/uri-list payload into URIs, skipping blank and comment lines.
func ParseURIList(text string) []string {
	var uris []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	return uris
}

func withSource(files []File, src Source) []File {
	out := make([]File, len(files))
	for i, f := range files {
		f.Source = src
		out[i] = f
	}
	return out
}
