package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// FormField is the multipart field that carries the file.
const FormField = "image"

// drainLimit bounds how much of an oversized request is read and discarded so
// the client sees the 413 instead of a reset connection.
const drainLimit = 64 << 20

// Response is the JSON body returned on success.
type Response struct {
	ImageURL    string `json:"imageUrl"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
}

// Handler serves POST /upload.
type Handler struct {
	svc *Service
	log zerolog.Logger
}

// NewHandler wraps svc in an http.Handler.
func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With().Str("component", "upload").Logger()}
}

// ServeHTTP stores the first file in the "image" field and replies with its
// public URL. Other parts are skipped.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.log.Debug().Err(err).Msg("malformed multipart body")
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		if part.FormName() != FormField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		result, err := h.svc.Save(r.Context(), part, part.FileName())
		_ = part.Close()
		h.respond(w, r, result, err)
		return
	}

	h.respond(w, r, nil, ErrMissingFile)
}

// respond maps the outcome of Save to a JSON response.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, result *Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Response{
			ImageURL:    result.URL,
			ContentType: result.ContentType,
			Size:        result.Size,
		})
	case errors.Is(err, ErrTooLarge):
		h.log.Info().Str("remote", r.RemoteAddr).Msg("upload rejected: too large")
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, drainLimit))
		w.Header().Set("Connection", "close")
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %s upload limit", humanize.IBytes(uint64(h.svc.MaxBytes()))))
	case errors.Is(err, ErrMissingFile):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no file in form field %q", FormField))
	case errors.Is(err, ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("upload failed")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
	}
}

// writeError writes {"error": msg} with status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
