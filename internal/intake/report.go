package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReportTitle heads every rejection report.
const ReportTitle = "Invalid files"

// Report is one batched, dismissible notice listing every rejection from a single ingestion.
type Report struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Source    Source      `json:"source"`
	Entries   []Rejection `json:"entries"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewReport builds a report for the given rejections.
func NewReport(source Source, entries []Rejection) Report {
	return Report{
		ID:        uuid.NewString(),
		Title:     ReportTitle,
		Source:    source,
		Entries:   entries,
		CreatedAt: time.Now().UTC(),
	}
}

// Message renders one "name: reason" line per entry.
func (r Report) Message() string {
	var b strings.Builder
	for i, e := range r.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", e.Name, e.Reason)
	}
	return b.String()
}

// Reporter surfaces rejection reports to the user.
type Reporter interface {
	Report(ctx context.Context, r Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, r Report)

// Report calls f(ctx, r).
func (f ReporterFunc) Report(ctx context.Context, r Report) { f(ctx, r) }

// Notices keeps reports until the user dismisses them.
type Notices struct {
	mu    sync.Mutex
	items []Report
}

// Report stores r until it is dismissed.
func (n *Notices) Report(_ context.Context, r Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, r)
}

// List returns the undismissed reports, oldest first.
func (n *Notices) List() []Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Report, len(n.items))
	copy(out, n.items)
	return out
}

// Dismiss removes the report with the given ID and reports whether it existed.
func (n *Notices) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, r := range n.items {
		if r.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}
