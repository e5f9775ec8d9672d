package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/mediadrop/internal/intake"
)

// HTTPHandler exposes the host page surface of the intake service.
type HTTPHandler struct {
	service         *Service
	logger          *zap.Logger
	maxRequestBytes int64
	formMemBytes    int64
	router          chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, maxRequestBytes, formMemBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		service:         service,
		logger:          logger,
		maxRequestBytes: maxRequestBytes,
		formMemBytes:    formMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.handleOpenSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Use(h.withSession)

			r.Delete("/", h.handleCloseSession)
			r.Post("/picker", h.handlePicker)
			r.Post("/drag/{phase}", h.handleDrag)
			r.Post("/drop", h.handleDrop)
			r.Post("/paste", h.handlePaste)
			r.Post("/window-paste", h.handleWindowPaste)
			r.Get("/files", h.handleListFiles)
			r.Delete("/files/{index}", h.handleRemoveFile)
			r.Get("/notices", h.handleListNotices)
			r.Delete("/notices/{noticeID}", h.handleDismissNotice)
		})
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

type sessionKey struct{}

func (h *HTTPHandler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.service.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		sess.Touch(time.Now())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *Session {
	return r.Context().Value(sessionKey{}).(*Session)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type openSessionRequest struct {
	PasteScope    string `json:"paste_scope"`
	WindowPaste   bool   `json:"window_paste"`
	MaxImageBytes int64  `json:"max_image_bytes"`
	MaxVideoBytes int64  `json:"max_video_bytes"`
}

func (h *HTTPHandler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid session request")
		return
	}

	sess, err := h.service.Open(SessionOptions{
		PasteScope:    intake.Element(req.PasteScope),
		WindowPaste:   req.WindowPaste,
		MaxImageBytes: req.MaxImageBytes,
		MaxVideoBytes: req.MaxVideoBytes,
	})
	if err != nil {
		h.logger.Warn("open session failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy := sess.Controller.Policy()
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":      sess.ID,
		"accept":          policy.Accept(),
		"max_image_bytes": policy.MaxImageBytes,
		"max_video_bytes": policy.MaxVideoBytes,
		"hint": fmt.Sprintf("Images up to %s, Videos up to %s",
			humanize.IBytes(uint64(policy.MaxImageBytes)), humanize.IBytes(uint64(policy.MaxVideoBytes))),
	})
}

func (h *HTTPHandler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseSession(sessionFrom(r).ID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handlePicker(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	body, ok := h.readPayload(w, r, sess)
	if !ok {
		return
	}

	if !sess.Picker.Select(body.files()) {
		writeJSON(w, http.StatusOK, h.outcomeView(sess, intake.Outcome{}))
		return
	}
	out, err := sess.Controller.Pick(r.Context(), sess.Picker)
	h.respondOutcome(w, sess, out, err)
}

func (h *HTTPHandler) handleDrag(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	switch chi.URLParam(r, "phase") {
	case "enter":
		sess.Controller.DragEnter()
	case "over":
		sess.Controller.DragOver()
	case "leave":
		sess.Controller.DragLeave()
	default:
		writeError(w, http.StatusNotFound, "unknown drag phase")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"dragging": sess.Controller.Dragging(),
	})
}

func (h *HTTPHandler) handleDrop(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	body, ok := h.readPayload(w, r, sess)
	if !ok {
		return
	}

	out, err := sess.Controller.Drop(r.Context(), intake.DropEvent{Items: body.items})
	h.respondOutcome(w, sess, out, err)
}

func (h *HTTPHandler) handlePaste(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	body, ok := h.readPayload(w, r, sess)
	if !ok {
		return
	}

	out, err := sess.Controller.Paste(r.Context(), intake.PasteEvent{
		Target: intake.Element(body.field("target")),
		Files:  body.files(),
	})
	h.respondOutcome(w, sess, out, err)
}

func (h *HTTPHandler) handleWindowPaste(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	body, ok := h.readPayload(w, r, sess)
	if !ok {
		return
	}

	listeners := sess.Window.DispatchPaste(r.Context(), intake.PasteEvent{
		Target: intake.Element(body.field("target")),
		Files:  body.files(),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"listeners": listeners,
		"selection": fileViews(sess.Controller.Selection()),
	})
}

func (h *HTTPHandler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"files":    fileViews(sess.Controller.Selection()),
		"dragging": sess.Controller.Dragging(),
	})
}

func (h *HTTPHandler) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	removed := sess.Controller.Remove(index)
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"files":   fileViews(sess.Controller.Selection()),
	})
}

func (h *HTTPHandler) handleListNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"notices": noticeViews(sessionFrom(r).Notices.List()),
	})
}

func (h *HTTPHandler) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	if !sessionFrom(r).Notices.Dismiss(chi.URLParam(r, "noticeID")) {
		writeError(w, http.StatusNotFound, "notice not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// payload is a multipart request body in the order its parts arrived.
type payload struct {
	items  []intake.DropItem
	fields map[string][]string
}

func (p *payload) files() []intake.File {
	var files []intake.File
	for _, item := range p.items {
		if item.Kind == intake.KindFile {
			files = append(files, item.File)
		}
	}
	return files
}

func (p *payload) field(key string) string {
	values := p.fields[key]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

var errFieldTooLarge = errors.New("form field too large")

// readPayload streams the multipart body part by part. "files" parts become
// file items and "uri_list" fields become uri-list items, both in body order.
// Other fields are kept by name. Writes the error response and returns false
// when the body cannot be read.
func (h *HTTPHandler) readPayload(w http.ResponseWriter, r *http.Request, sess *Session) (*payload, bool) {
	if r.ContentLength > 0 && r.ContentLength > h.maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}

	body, err := h.readParts(mr, sess.Controller.Policy().FetchLimit())
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr), errors.Is(err, errFieldTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		default:
			h.logger.Debug("multipart body rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return nil, false
	}
	return body, true
}

func (h *HTTPHandler) readParts(mr *multipart.Reader, limit int64) (*payload, error) {
	body := &payload{fields: map[string][]string{}}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next part: %w", err)
		}

		name := part.FormName()
		switch {
		case part.FileName() != "":
			if name != "files" {
				break
			}
			f, err := readFilePart(part, limit)
			if err != nil {
				part.Close()
				return nil, err
			}
			body.items = append(body.items, intake.FileItem(f))
		default:
			data, err := io.ReadAll(io.LimitReader(part, h.formMemBytes+1))
			if err != nil {
				part.Close()
				return nil, fmt.Errorf("read field %s: %w", name, err)
			}
			if int64(len(data)) > h.formMemBytes {
				part.Close()
				return nil, fmt.Errorf("%w: %s", errFieldTooLarge, name)
			}
			body.fields[name] = append(body.fields[name], string(data))
			if name == "uri_list" {
				body.items = append(body.items, intake.StringItem(intake.MediaTypeURIList, string(data)))
			}
		}
		part.Close()
	}
}

// readFilePart keeps at most limit+1 bytes of a file part in memory and
// counts the rest, so an oversized part is reported at its real size and
// rejected by classification.
func readFilePart(part *multipart.Part, limit int64) (intake.File, error) {
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return intake.File{}, fmt.Errorf("read part %s: %w", part.FileName(), err)
	}
	rest, err := io.Copy(io.Discard, part)
	if err != nil {
		return intake.File{}, fmt.Errorf("read part %s: %w", part.FileName(), err)
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := int64(len(data)) + rest
	return intake.NewFile(part.FileName(), contentType, size, "", intake.Bytes(data)), nil
}

func (h *HTTPHandler) respondOutcome(w http.ResponseWriter, sess *Session, out intake.Outcome, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.outcomeView(sess, out))
	case errors.Is(err, intake.ErrUnmounted):
		writeError(w, http.StatusConflict, "session closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "ingestion cancelled")
	default:
		h.logger.Error("ingestion failed", zap.String("session_id", sess.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	}
}

type fileView struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`
	Source    string `json:"source"`
}

func fileViews(files []intake.File) []fileView {
	out := make([]fileView, len(files))
	for i, f := range files {
		out[i] = fileView{
			Index:     i,
			ID:        f.ID,
			Name:      f.Name,
			MediaType: f.MediaType,
			SizeBytes: f.Size,
			SizeHuman: humanize.IBytes(uint64(max(f.Size, 0))),
			Source:    string(f.Source),
		}
	}
	return out
}

type noticeView struct {
	intake.Report
	Message string `json:"message"`
}

func noticeViews(reports []intake.Report) []noticeView {
	out := make([]noticeView, len(reports))
	for i, r := range reports {
		out[i] = noticeView{Report: r, Message: r.Message()}
	}
	return out
}

func (h *HTTPHandler) outcomeView(sess *Session, out intake.Outcome) map[string]any {
	view := map[string]any{
		"accepted":  fileViews(out.Accepted),
		"rejected":  out.Rejected,
		"selection": fileViews(sess.Controller.Selection()),
	}
	if out.Rejected == nil {
		view["rejected"] = []intake.Rejection{}
	}
	if out.Report != nil {
		view["notice"] = noticeView{Report: *out.Report, Message: out.Report.Message()}
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
