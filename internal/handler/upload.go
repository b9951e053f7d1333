package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/ingest"
	"github.com/scholarly-ai/tutor-backend/internal/middleware"
	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// maxUploadBytes bounds the multipart form's in-memory parse buffer;
// larger files spill to temp files via the stdlib multipart reader.
const maxUploadBytes = 64 << 20 // 64MiB

// uploadResponseBody mirrors model.UploadRecord for the wire, per §6's
// Persistence contract surfaced through /upload/content.
type uploadResponseBody struct {
	UploadID      string `json:"upload_id"`
	Filename      string `json:"filename"`
	TenantID      string `json:"tenant_id"`
	Status        string `json:"status"`
	ChunksCreated int    `json:"chunks_created"`
	FailReason    string `json:"fail_reason,omitempty"`
}

// Upload implements POST /upload/content: a multipart file plus a
// declared content type and title, run through the Ingestion Coordinator.
func Upload(coordinator *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			middleware.WriteError(w, apperr.New(apperr.InputInvalid, "invalid multipart form"))
			return
		}

		tenantID, err := middleware.ResolveRequestTenant(r.Context(), r.FormValue("tenant_id"))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		declaredType := model.ContentType(r.FormValue("content_type"))
		switch declaredType {
		case model.ContentPDF, model.ContentText, model.ContentAudio, model.ContentVideo:
		default:
			middleware.WriteError(w, apperr.New(apperr.InputInvalid, "content_type must be one of pdf, text, audio, video"))
			return
		}
		title := r.FormValue("title")

		file, header, err := r.FormFile("file")
		if err != nil {
			middleware.WriteError(w, apperr.New(apperr.InputInvalid, "file is required"))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			middleware.WriteError(w, apperr.New(apperr.InputInvalid, "failed to read uploaded file"))
			return
		}

		rec, err := coordinator.Ingest(r.Context(), tenantID, header.Filename, declaredType, title, data)
		if err != nil {
			if rec != nil {
				// Processing failed after the upload record was created;
				// report it with its fail_reason rather than a bare 500.
				writeUploadResponse(w, http.StatusUnprocessableEntity, rec)
				return
			}
			middleware.WriteError(w, err)
			return
		}

		writeUploadResponse(w, http.StatusOK, rec)
	}
}

func writeUploadResponse(w http.ResponseWriter, status int, rec *model.UploadRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(uploadResponseBody{
		UploadID:      rec.ID,
		Filename:      rec.Filename,
		TenantID:      rec.TenantID,
		Status:        string(rec.Status),
		ChunksCreated: rec.ChunkCount,
		FailReason:    rec.FailReason,
	})
}
