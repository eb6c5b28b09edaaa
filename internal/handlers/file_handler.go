package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// FileHandler serves upload records: the parent workbooks and the sheet
// files split from them.
type FileHandler struct {
	uploads interfaces.UploadStorage
	logger  arbor.ILogger
}

// NewFileHandler creates a file API handler
func NewFileHandler(uploads interfaces.UploadStorage, logger arbor.ILogger) *FileHandler {
	return &FileHandler{
		uploads: uploads,
		logger:  logger,
	}
}

// ListFilesHandler returns upload records, newest first.
//
// GET /files/?status=&limit=
func (h *FileHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.FileListOptions{
		Limit: GetLimitParam(r, 50, 200),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = models.ProcessingStatus(status)
	}

	files, err := h.uploads.ListFiles(r.Context(), opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

// RouteFilePath dispatches /files/ and /files/{file_id}[/sheets].
func (h *FileHandler) RouteFilePath(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/files/"), "/")
	if rest == "" {
		h.ListFilesHandler(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		h.GetFileHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "sheets":
		h.GetFileSheetsHandler(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "unknown files endpoint")
	}
}

// GetFileHandler returns one upload record.
//
// GET /files/{file_id}
func (h *FileHandler) GetFileHandler(w http.ResponseWriter, r *http.Request, fileID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	file, err := h.uploads.GetFileUpload(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, fmt.Sprintf("file %s not found", fileID))
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

// GetFileSheetsHandler returns the sheet files split from a parent workbook.
//
// GET /files/{file_id}/sheets
func (h *FileHandler) GetFileSheetsHandler(w http.ResponseWriter, r *http.Request, fileID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sheets, err := h.uploads.GetFilesByParentID(r.Context(), fileID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"file_id": fileID,
		"sheets":  sheets,
		"count":   len(sheets),
	})
}
