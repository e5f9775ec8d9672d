package intake

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

// Reason is why a candidate file was rejected.
type Reason int

const (
	ReasonUnsupportedType Reason = iota + 1
	ReasonTooLarge
	// ReasonUnreachable marks a dropped reference that could not be fetched.
	ReasonUnreachable
)

// String renders the reason the way it is shown to users.
func (r Reason) String() string {
	switch r {
	case ReasonUnsupportedType:
		return "unsupported file type"
	case ReasonTooLarge:
		return "file too large"
	case ReasonUnreachable:
		return "could not fetch file"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MarshalText lets reasons appear as their user-facing text in JSON.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Rejection pairs a file name with the reason it was turned away.
type Rejection struct {
	Name   string `json:"name"`
	Reason Reason `json:"reason"`
	Err    error  `json:"-"`
}

// Result partitions a candidate list. Both slices keep presentation order.
type Result struct {
	Accepted []File
	Rejected []Rejection
}

// Policy configures which media types are accepted and how large they may be.
type Policy struct {
	ImageTypes    []string
	VideoTypes    []string
	MaxImageBytes int64
	MaxVideoBytes int64
}

// DefaultPolicy accepts common web image and video formats: images up to
// 5 MiB and videos up to 100 MiB.
func DefaultPolicy() Policy {
	return Policy{
		ImageTypes:    []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		VideoTypes:    []string{"video/mp4", "video/webm", "video/ogg"},
		MaxImageBytes: 5 * 1024 * 1024,
		MaxVideoBytes: 100 * 1024 * 1024,
	}
}

// Validate reports configuration mistakes that would make classification meaningless.
func (p Policy) Validate() error {
	var errs []error
	if len(p.ImageTypes) == 0 && len(p.VideoTypes) == 0 {
		errs = append(errs, errors.New("no accepted media types"))
	}
	if p.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("image ceiling must be positive, got %d", p.MaxImageBytes))
	}
	if p.MaxVideoBytes <= 0 {
		errs = append(errs, fmt.Errorf("video ceiling must be positive, got %d", p.MaxVideoBytes))
	}
	images := typeSet(p.ImageTypes)
	for _, t := range p.VideoTypes {
		if _, ok := images[normalizeType(t)]; ok {
			errs = append(errs, fmt.Errorf("media type %s listed as both image and video", t))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid intake policy: %w", errors.Join(errs...))
	}
	return nil
}

// Accept renders the policy as a file input accept attribute.
func (p Policy) Accept() string {
	all := make([]string, 0, len(p.ImageTypes)+len(p.VideoTypes))
	all = append(all, p.ImageTypes...)
	all = append(all, p.VideoTypes...)
	return strings.Join(all, ",")
}

// FetchLimit is the most bytes any accepted file can have.
func (p Policy) FetchLimit() int64 {
	return max(p.MaxImageBytes, p.MaxVideoBytes)
}

// Classifier applies a Policy. It holds no state between calls.
type Classifier struct {
	images   map[string]struct{}
	videos   map[string]struct{}
	maxImage int64
	maxVideo int64
}

// NewClassifier builds a Classifier for p.
func NewClassifier(p Policy) *Classifier {
	return &Classifier{
		images:   typeSet(p.ImageTypes),
		videos:   typeSet(p.VideoTypes),
		maxImage: p.MaxImageBytes,
		maxVideo: p.MaxVideoBytes,
	}
}

// Check classifies a single file. ok is true when the file is accepted.
func (c *Classifier) Check(f File) (reason Reason, ok bool) {
	mediaType := normalizeType(f.MediaType)
	_, isImage := c.images[mediaType]
	_, isVideo := c.videos[mediaType]

	switch {
	case !isImage && !isVideo:
		return ReasonUnsupportedType, false
	case isImage && f.Size > c.maxImage:
		return ReasonTooLarge, false
	case isVideo && f.Size > c.maxVideo:
		return ReasonTooLarge, false
	}
	return 0, true
}

// Classify partitions files into accepted and rejected, preserving order.
func (c *Classifier) Classify(files []File) Result {
	var res Result
	for _, f := range files {
		if reason, ok := c.Check(f); !ok {
			res.Rejected = append(res.Rejected, Rejection{Name: f.Name, Reason: reason})
			continue
		}
		res.Accepted = append(res.Accepted, f)
	}
	return res
}

func typeSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = normalizeType(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// normalizeType lowercases a media type and drops any parameters.
func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return strings.ToLower(t)
}
