package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/screenshot-api/internal/pipeline"
	"github.com/maauso/screenshot-api/internal/session"
	"github.com/maauso/screenshot-api/internal/session/id"
	"github.com/maauso/screenshot-api/internal/storage"
	"github.com/maauso/screenshot-api/internal/video"
)

// fileField is the multipart form field carrying the selected video.
const fileField = "file"

// Static errors for request handling.
var (
	// ErrFileFieldMissing is returned when the multipart body has no file part.
	ErrFileFieldMissing = errors.New("multipart field \"file\" is required")
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	sessions       *session.Manager
	temp           storage.Storage
	objects        storage.ObjectStore
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of a selected file. Zero means no limit.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		h.maxUploadBytes = n
	}
}

// NewHandlers creates a new Handlers instance. temp receives selected files;
// objects serves screenshot downloads.
func NewHandlers(sessions *session.Manager, temp storage.Storage, objects storage.ObjectStore, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("session_id", func(fl validator.FieldLevel) bool {
		return id.Valid(fl.Field().String())
	})

	h := &Handlers{
		sessions:  sessions,
		temp:      temp,
		objects:   objects,
		validator: v,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sessions: len(h.sessions.List())})
}

// CreateSession handles POST /sessions requests. It opens a session and
// selects the uploaded file into it.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	src, ok := h.receiveFile(w, r)
	if !ok {
		return
	}

	s := h.sessions.Create()
	h.selectFile(w, r, s, src, http.StatusCreated)
}

// SelectFile handles PUT /sessions/{id}/file requests. It replaces the
// session's selection, cancelling any work in progress.
func (h *Handlers) SelectFile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	src, ok := h.receiveFile(w, r)
	if !ok {
		return
	}
	h.selectFile(w, r, s, src, http.StatusOK)
}

// StartSession handles POST /sessions/{id}/start requests.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	st, err := s.Controller.Start()
	if err != nil {
		resp := newSessionResponse(s, st)
		switch {
		case errors.Is(err, pipeline.ErrStartNotAllowed):
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   err.Error(),
				Code:    "START_NOT_ALLOWED",
				Session: &resp,
			})
		case errors.Is(err, pipeline.ErrClosed):
			writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		default:
			h.logger.Error("failed to start pipeline",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to start pipeline", "START_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, newSessionResponse(s, st))
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s, s.Controller.State()))
}

// DeleteSession handles DELETE /sessions/{id} requests.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	p := sessionPath{ID: r.PathValue("id")}
	if err := h.validator.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID", "INVALID_SESSION_ID")
		return
	}

	if err := h.sessions.Delete(r.Context(), p.ID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
			return
		}
		// The session is gone; only its temporary files may remain.
		h.logger.Warn("session deleted with cleanup errors",
			slog.String("session_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadScreenshot handles GET /sessions/{id}/screenshots/{ordinal}
// requests. Stored screenshots are streamed as attachments; screenshots
// held by a remote service are redirected to.
func (h *Handlers) DownloadScreenshot(w http.ResponseWriter, r *http.Request) {
	ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ordinal must be an integer", "INVALID_ORDINAL")
		return
	}
	p := screenshotPath{ID: r.PathValue("id"), Ordinal: ordinal}
	if err := h.validator.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	s, err := h.sessions.Get(p.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		return
	}

	shot, err := s.Controller.Screenshot(p.Ordinal)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotComplete):
			writeError(w, http.StatusConflict, "screenshots are not ready", "NOT_COMPLETE")
		default:
			writeError(w, http.StatusNotFound, "screenshot not found", "SCREENSHOT_NOT_FOUND")
		}
		return
	}

	if shot.Key == "" {
		http.Redirect(w, r, shot.URL, http.StatusFound)
		return
	}

	body, err := h.objects.Open(r.Context(), shot.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "screenshot not found", "SCREENSHOT_NOT_FOUND")
			return
		}
		h.logger.Error("failed to open screenshot",
			slog.String("session_id", s.ID),
			slog.String("key", shot.Key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch screenshot", "DOWNLOAD_FAILED")
		return
	}
	defer func() { _ = body.Close() }()

	ext := path.Ext(shot.Key)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": fmt.Sprintf("screenshot_%d%s", shot.Ordinal, ext),
	}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("screenshot download interrupted",
			slog.String("session_id", s.ID),
			slog.Int("ordinal", shot.Ordinal),
			slog.String("error", err.Error()),
		)
	}
}

// lookupSession validates the {id} path parameter and resolves the session,
// writing the error response when it cannot.
func (h *Handlers) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	p := sessionPath{ID: r.PathValue("id")}
	if err := h.validator.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID", "INVALID_SESSION_ID")
		return nil, false
	}

	s, err := h.sessions.Get(p.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		return nil, false
	}
	return s, true
}

// receiveFile streams the multipart "file" part to temporary storage and
// returns the resulting source. The MIME type comes from the part header,
// falling back to the file extension.
func (h *Handlers) receiveFile(w http.ResponseWriter, r *http.Request) (video.Source, bool) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart/form-data body required", "INVALID_MULTIPART")
		return video.Source{}, false
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, ErrFileFieldMissing.Error(), "MISSING_FILE")
			return video.Source{}, false
		}
		if err != nil {
			h.writeReadError(w, err)
			return video.Source{}, false
		}
		if part.FormName() != fileField {
			_ = part.Close()
			continue
		}

		upload := fileUpload{
			Name:     filepath.Base(part.FileName()),
			MIMEType: detectMIMEType(part.Header.Get("Content-Type"), part.FileName()),
		}
		if upload.Name == "." || upload.Name == string(filepath.Separator) {
			upload.Name = ""
		}
		if err := h.validator.Struct(upload); err != nil {
			_ = part.Close()
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return video.Source{}, false
		}

		counter := &countingReader{r: part}
		tmpPath, err := h.temp.SaveTemp(r.Context(), upload.Name, counter)
		_ = part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit", "FILE_TOO_LARGE")
				return video.Source{}, false
			}
			h.logger.Error("failed to store selected file",
				slog.String("name", upload.Name),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to store file", "FILE_STORE_FAILED")
			return video.Source{}, false
		}

		return video.Source{
			Name:     upload.Name,
			Size:     counter.n,
			MIMEType: upload.MIMEType,
			Path:     tmpPath,
		}, true
	}
}

// selectFile hands src to the session's controller and writes the outcome.
func (h *Handlers) selectFile(w http.ResponseWriter, r *http.Request, s *session.Session, src video.Source, okStatus int) {
	st, err := s.Controller.SelectFile(src)
	if err != nil {
		h.discardTemp(r.Context(), src.Path)
		resp := newSessionResponse(s, st)
		switch {
		case errors.Is(err, pipeline.ErrInvalidFile):
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:   err.Error(),
				Code:    string(pipeline.KindInvalidFile),
				Session: &resp,
			})
		case errors.Is(err, pipeline.ErrClosed):
			writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		default:
			h.logger.Error("failed to select file",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to select file", "SELECT_FAILED")
		}
		return
	}

	s.Track(src.Path)
	h.logger.Info("file selected",
		slog.String("session_id", s.ID),
		slog.String("name", src.Name),
		slog.String("size", src.HumanSize()),
	)
	writeJSON(w, okStatus, newSessionResponse(s, st))
}

func (h *Handlers) discardTemp(ctx context.Context, p string) {
	if err := h.temp.CleanupTemp(ctx, []string{p}); err != nil {
		h.logger.Warn("failed to remove rejected file",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) writeReadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit", "FILE_TOO_LARGE")
		return
	}
	writeError(w, http.StatusBadRequest, "malformed multipart body", "INVALID_MULTIPART")
}

// detectMIMEType prefers the declared part type and falls back to the
// extension when the client sent none or a generic one.
func detectMIMEType(declared, name string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	if mt, ok := videoExtensions[ext]; ok {
		return mt
	}
	return declared
}

// videoExtensions covers containers missing from the built-in MIME table
// on hosts without a mime.types file.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".ogv":  "video/ogg",
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
