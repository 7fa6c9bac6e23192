package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"billsync/internal/ingest"
	"billsync/internal/model"
	"billsync/internal/mw"
	"billsync/internal/service"
	"billsync/internal/worker"
)

const maxUploadBytes = 32 << 20

type batchResponse struct {
	BatchID   string         `json:"batchId"`
	FileName  string         `json:"fileName"`
	RowCount  int            `json:"rowCount"`
	FileCount int            `json:"fileCount"`
	Mapping   ingest.Mapping `json:"mapping"`
	Settings  model.Settings `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toBatchResponse(batch Batch) batchResponse {
	return batchResponse{
		BatchID:   batch.ID,
		FileName:  batch.FileName,
		RowCount:  len(batch.Rows),
		FileCount: len(batch.Files),
		Mapping:   batch.Mapping,
		Settings:  batch.Settings,
		CreatedAt: batch.CreatedAt,
	}
}

// CreateBatchHandler accepts a multipart spreadsheet upload, maps its
// columns and stages the rows. An explicit "mapping" JSON field wins
// over a named "profile"; with neither, a mapping is suggested from
// the headers.
func CreateBatchHandler(batches *BatchStore, profiles map[string]ingest.Mapping, defaults model.Settings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file field is required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		var headers []string
		var records [][]string
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".csv":
			headers, records, err = ingest.ReadCSV(file)
		case ".xlsx":
			headers, records, err = ingest.ReadXLSX(file)
		default:
			http.Error(w, "unsupported file type (want .csv or .xlsx)", http.StatusUnsupportedMediaType)
			return
		}
		if err != nil {
			slog.Error("spreadsheet parse failed", "file", header.Filename, "error", err)
			http.Error(w, "could not parse file", http.StatusUnprocessableEntity)
			return
		}

		mapping, err := resolveMapping(r, profiles, headers)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		settings := defaults
		if raw := r.FormValue("settings"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &settings); err != nil {
				http.Error(w, "invalid settings json", http.StatusBadRequest)
				return
			}
		}
		if !settings.Environment.Valid() {
			http.Error(w, "environment must be sandbox or production", http.StatusBadRequest)
			return
		}

		rows := ingest.RowsFromRecords(headers, records, mapping)
		batch := batches.Create(header.Filename, rows, mapping, settings)
		slog.Info("batch staged", "batch", batch.ID, "file", batch.FileName, "rows", len(rows))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(toBatchResponse(batch)); err != nil {
			slog.Error("encode response failed", "error", err)
		}
	}
}

func resolveMapping(r *http.Request, profiles map[string]ingest.Mapping, headers []string) (ingest.Mapping, error) {
	if raw := r.FormValue("mapping"); raw != "" {
		var mapping ingest.Mapping
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			return nil, errors.New("invalid mapping json")
		}
		return mapping, nil
	}
	if name := r.FormValue("profile"); name != "" {
		mapping, ok := profiles[name]
		if !ok {
			return nil, fmt.Errorf("unknown mapping profile %q", name)
		}
		return mapping, nil
	}
	return ingest.SuggestMapping(headers), nil
}

// AddFilesHandler stages attachment payloads against a batch. Rows
// reference these by filename.
func AddFilesHandler(batches *BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		batchID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
			http.Error(w, "files field is required", http.StatusBadRequest)
			return
		}

		uploads := make(map[string][]byte)
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "could not read upload", http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "could not read upload", http.StatusBadRequest)
				return
			}
			uploads[fh.Filename] = data
		}

		total, ok := batches.AddFiles(batchID, uploads)
		if !ok {
			http.Error(w, "batch not found", http.StatusNotFound)
			return
		}
		slog.Info("files staged", "batch", batchID, "added", len(uploads), "total", total)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int{"fileCount": total}); err != nil {
			slog.Error("encode response failed", "error", err)
		}
	}
}

// GetBatchHandler returns batch metadata.
func GetBatchHandler(batches *BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		batch, ok := batches.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "batch not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toBatchResponse(batch)); err != nil {
			slog.Error("encode response failed", "error", err)
		}
	}
}

// DryRunHandler narrates what executing the batch would do, without
// touching the books system.
func DryRunHandler(batches *BatchStore, orchestrator *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		batch, ok := batches.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "batch not found", http.StatusNotFound)
			return
		}

		results := orchestrator.DryRun(r.Context(), batch.Rows, batch.Settings, batch.Files)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"results": results}); err != nil {
			slog.Error("encode response failed", "error", err)
		}
	}
}

// ExecuteBatchHandler queues a batch for execution under the caller's
// books credential. The runner refuses a batch that is already queued
// or running.
func ExecuteBatchHandler(batches *BatchStore, runner *worker.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cred, ok := mw.CredentialFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		batch, ok := batches.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "batch not found", http.StatusNotFound)
			return
		}

		job, err := runner.Enqueue(batch.ID, batch.Rows, batch.Settings, batch.Files, cred)
		if err != nil {
			switch {
			case errors.Is(err, worker.ErrBatchActive):
				http.Error(w, "batch is already executing", http.StatusConflict)
				return
			case errors.Is(err, worker.ErrQueueFull):
				http.Error(w, "too many queued batches, try again later", http.StatusServiceUnavailable)
				return
			default:
				slog.Error("enqueue failed", "batch", batch.ID, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		slog.Info("batch queued", "batch", batch.ID, "job", job.ID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"jobId":  job.ID,
			"status": string(job.Status),
		}); err != nil {
			slog.Error("encode response failed", "error", err)
		}
	}
}
