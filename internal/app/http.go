package app

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/casescribe/internal/export"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/transcript"
)

// Multipart form field names accepted by POST /align.
const (
	fieldRTF   = "rtf_file"
	fieldAudio = "audio_file"
	fieldPlain = "plain_text"
	fieldModel = "whisper_model_size"
)

// maxMemory is the part of a multipart body kept in memory; the rest spills
// to temporary files.
const maxMemory = 32 << 20

// User-visible error messages.
const (
	msgNoTranscript = "No transcript provided (rtf_file or plain_text)."
	msgNoAudio      = "No audio provided (audio_file)."
	msgBadForm      = "Invalid multipart form."
	msgInternal     = "Analysis failed."
)

// alignResponse is the JSON body of a successful POST /align.
type alignResponse struct {
	ID                  string               `json:"id"`
	Analysis            *transcript.Analysis `json:"analysis"`
	CorrectedTranscript string               `json:"correctedTranscript"`
	Downloads           downloads            `json:"downloads"`
}

type downloads struct {
	TXT       string                   `json:"txt_base64"`
	DOCX      string                   `json:"docx_base64"`
	Filenames map[export.Format]string `json:"filenames"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAlign serves POST /align.
func (a *App) handleAlign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := int64(a.cfg.Server.MaxUploadMB) << 20
	if limit > 0 {
		if r.ContentLength > limit {
			a.writeTooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeTooLarge(w)
			return
		}
		slog.DebugContext(ctx, "rejecting align request", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadForm})
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.WarnContext(ctx, "failed to remove multipart temp files", "err", err)
		}
	}()

	rtf, err := formFile(r, fieldRTF)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadForm})
		return
	}
	audio, err := formFile(r, fieldAudio)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadForm})
		return
	}

	res, err := a.Analyze(ctx, Request{
		RTF:       rtf,
		PlainText: r.FormValue(fieldPlain),
		Audio:     audio,
		Model:     r.FormValue(fieldModel),
	})
	switch {
	case errors.Is(err, ErrNoTranscript):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoTranscript})
		return
	case errors.Is(err, ErrNoAudio):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoAudio})
		return
	case err != nil:
		slog.ErrorContext(ctx, "analysis failed",
			"request_id", observe.RequestID(ctx), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
		return
	}

	writeJSON(w, http.StatusOK, newAlignResponse(res))
}

// newAlignResponse converts res to its wire representation.
func newAlignResponse(res *Result) alignResponse {
	return alignResponse{
		ID:                  res.ID,
		Analysis:            res.Analysis,
		CorrectedTranscript: res.Analysis.Corrected,
		Downloads: downloads{
			TXT:       base64.StdEncoding.EncodeToString(res.Files[export.FormatTXT]),
			DOCX:      base64.StdEncoding.EncodeToString(res.Files[export.FormatDOCX]),
			Filenames: export.Filenames,
		},
	}
}

func (a *App) writeTooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
		Error: fmt.Sprintf("Upload exceeds %d MB.", a.cfg.Server.MaxUploadMB),
	})
}

// formFile reads the named file part. It returns nil without error when the
// part is absent, and a non-nil slice when it is present but empty.
func formFile(r *http.Request, name string) ([]byte, error) {
	f, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("app: read form file %q: %w", name, err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("app: read form file %q: %w", name, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
