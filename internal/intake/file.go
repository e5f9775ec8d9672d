// Package intake implements headless upload intake: collecting candidate files
// from picker, drop and paste events, resolving dropped URL references,
// classifying candidates against a media policy and accumulating the accepted
// ones into a per-widget selection.
package intake

import (
	"bytes"
	"io"

	"github.com/google/uuid"
)

// Source names the input channel a candidate file arrived through.
type Source string

const (
	SourcePicker      Source = "picker"
	SourceDrop        Source = "drop"
	SourcePaste       Source = "paste"
	SourceWindowPaste Source = "window_paste"
	SourceRemote      Source = "remote"
)

// Content is a handle to the bytes behind a candidate file.
type Content interface {
	Open() (io.ReadCloser, error)
}

// Bytes is an in-memory Content.
type Bytes []byte

// Open returns a reader over b.
func (b Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// File is a candidate file under consideration for upload.
// Files are passed by value and never modified after NewFile returns.
type File struct {
	ID        string
	Name      string
	MediaType string
	Size      int64
	Source    Source
	Content   Content
}

// NewFile constructs a File with a fresh ID.
func NewFile(name, mediaType string, size int64, source Source, content Content) File {
	return File{
		ID:        uuid.NewString(),
		Name:      name,
		MediaType: mediaType,
		Size:      size,
		Source:    source,
		Content:   content,
	}
}
