package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/your-org/mediadrop/pkg/storage/objectstore"
)

// FallbackName is used when no file name can be derived from a reference.
const FallbackName = "image.jpg"

// imageOptimizerMarker identifies proxy URLs that carry the real source path in
// the "url" query parameter, e.g. /_next/image?url=%2Fphotos%2Fcat.png&w=200.
const imageOptimizerMarker = "/_next/image"

const defaultMediaType = "application/octet-stream"

// ErrUnsupportedScheme is wrapped by FetchError for references that are neither http(s) nor s3.
var ErrUnsupportedScheme = errors.New("unsupported reference scheme")

// FetchError reports a reference that could not be fetched.
type FetchError struct {
	URI    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URI, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed reference.
type ParseError struct {
	URI string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse reference %q: %v", e.URI, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// NameFromURI derives a file name from a reference. When the reference or its
// optimizer url parameter cannot be decoded it returns FallbackName together
// with a *ParseError.
func NameFromURI(raw string) (string, error) {
	u, err := parseReference(raw)
	if err != nil {
		return FallbackName, err
	}

	path := u.Path
	if strings.Contains(path, imageOptimizerMarker) {
		if src := u.Query().Get("url"); src != "" {
			// The query value is decoded once by Query; some proxies encode twice.
			decoded, err := url.PathUnescape(src)
			if err != nil {
				return FallbackName, &ParseError{URI: raw, Err: err}
			}
			path = decoded
		}
	}

	if name := lastSegment(path); name != "" {
		return name, nil
	}
	return FallbackName, nil
}

func parseReference(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &ParseError{URI: raw, Err: err}
	}
	if u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return nil, &ParseError{URI: raw, Err: errors.New("not an absolute URI")}
	}
	return u, nil
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ResolverParams configures a Resolver. Zero values get defaults, except that
// a nil Objects client makes s3 references fail.
type ResolverParams struct {
	HTTPClient *http.Client
	Objects    objectstore.Client
	Limiter    *rate.Limiter
	MaxBytes   int64
	Logger     *zap.Logger
	Recorder   Recorder
}

// Resolver turns dropped references into candidate files.
type Resolver struct {
	http     *http.Client
	objects  objectstore.Client
	limiter  *rate.Limiter
	maxBytes int64
	logger   *zap.Logger
	recorder Recorder
}

// NewResolver constructs a Resolver.
func NewResolver(p ResolverParams) *Resolver {
	r := &Resolver{
		http:     p.HTTPClient,
		objects:  p.Objects,
		limiter:  p.Limiter,
		maxBytes: p.MaxBytes,
		logger:   p.Logger,
		recorder: p.Recorder,
	}
	if r.http == nil {
		r.http = &http.Client{Timeout: 15 * time.Second}
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultPolicy().FetchLimit()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r
}

// Resolve fetches the resource behind uri and returns it as a candidate file.
// At most maxBytes+1 bytes are read; a non-positive maxBytes uses the
// resolver's default. Fetch failures are returned as *FetchError.
func (r *Resolver) Resolve(ctx context.Context, uri string, maxBytes int64) (File, error) {
	if maxBytes <= 0 {
		maxBytes = r.maxBytes
	}

	ctx, span := otel.Tracer("mediadrop/intake").Start(ctx, "intake.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("intake.uri", uri))

	u, err := parseReference(uri)
	if err != nil {
		span.SetStatus(codes.Error, "parse")
		return File{}, &FetchError{URI: uri, Err: err}
	}

	name, _ := NameFromURI(uri)

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "throttled")
			return File{}, &FetchError{URI: uri, Err: err}
		}
	}

	start := time.Now()
	var f File
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f, err = r.fetchHTTP(ctx, uri, name, maxBytes)
	case "s3":
		f, err = r.fetchObject(ctx, u, uri, name, maxBytes)
	default:
		err = &FetchError{URI: uri, Err: fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)}
	}
	r.recorder.ObserveResolve(strings.ToLower(u.Scheme), err == nil, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch")
		return File{}, err
	}

	span.SetAttributes(
		attribute.String("intake.file_name", f.Name),
		attribute.String("intake.media_type", f.MediaType),
		attribute.Int64("intake.size_bytes", f.Size),
	)
	r.logger.Debug("reference resolved",
		zap.String("uri", uri),
		zap.String("name", f.Name),
		zap.String("media_type", f.MediaType),
		zap.Int64("size_bytes", f.Size),
	)
	return f, nil
}

func (r *Resolver) fetchHTTP(ctx context.Context, uri, name string, maxBytes int64) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return File{}, &FetchError{URI: uri, Err: err}
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return File{}, &FetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return File{}, &FetchError{URI: uri, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	data, size, err := readBounded(resp.Body, resp.ContentLength, maxBytes)
	if err != nil {
		return File{}, &FetchError{URI: uri, Err: err}
	}
	return NewFile(name, declaredType(resp.Header.Get("Content-Type")), size, SourceRemote, data), nil
}

func (r *Resolver) fetchObject(ctx context.Context, u *url.URL, uri, name string, maxBytes int64) (File, error) {
	if r.objects == nil {
		return File{}, &FetchError{URI: uri, Err: errors.New("object store not configured")}
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return File{}, &FetchError{URI: uri, Err: &ParseError{URI: uri, Err: errors.New("want s3://bucket/key")}}
	}

	obj, err := r.objects.Get(ctx, bucket, key)
	if err != nil {
		return File{}, &FetchError{URI: uri, Err: err}
	}
	defer obj.Body.Close()

	data, size, err := readBounded(obj.Body, obj.Size, maxBytes)
	if err != nil {
		return File{}, &FetchError{URI: uri, Err: err}
	}
	return NewFile(name, declaredType(obj.ContentType), size, SourceRemote, data), nil
}

// readBounded reads at most maxBytes+1 bytes. A body over the limit is kept
// truncated; its size is reported as the larger of the declared and observed
// lengths so classification rejects it.
func readBounded(body io.Reader, declared, maxBytes int64) (Bytes, int64, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	size := int64(len(data))
	if size > maxBytes && declared > size {
		size = declared
	}
	return Bytes(data), size, nil
}

func declaredType(header string) string {
	if header == "" {
		return defaultMediaType
	}
	if mediaType, _, err := mime.ParseMediaType(header); err == nil {
		return mediaType
	}
	return header
}
