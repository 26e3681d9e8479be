package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/local/notesync/internal/assembler"
	"github.com/local/notesync/internal/custompdf"
	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/filetype"
)

type createCustomReq struct {
	CourseID   string                `json:"course_id"`
	Week       int                   `json:"week"`
	Title      string                `json:"title"`
	Selections []assembler.Selection `json:"selected_pages"`
}

func (s *Server) handleCreateCustomPDF(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var req createCustomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := s.deps.CustomPDFs.Create(r.Context(), custompdf.Request{
		StudentID:  userID,
		CourseID:   req.CourseID,
		Week:       req.Week,
		Title:      req.Title,
		Selections: req.Selections,
	})
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, verrs.Error())
		return
	case errors.Is(err, assembler.ErrNoValidPages):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, custompdf.ErrCourseNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		s.logger.Error().Err(err).Str("student_id", userID).Msg("custom pdf creation failed")
		writeError(w, http.StatusInternalServerError, "failed to create PDF")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"custom_pdf_id": out.CustomPDF.ID,
		"custom_pdf":    out.CustomPDF,
		"skipped":       out.Skipped,
	})
}

func (s *Server) handleListCustomPDFs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	if userID != r.PathValue("id") {
		writeError(w, http.StatusForbidden, "can only list your own PDFs")
		return
	}
	list, err := s.deps.CustomPDFs.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list PDFs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "custom_pdfs": list})
}

func (s *Server) handleDownloadCustomPDF(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	c, data, err := s.deps.CustomPDFs.Download(r.Context(), r.PathValue("id"), userID)
	switch {
	case err == nil:
	case errors.Is(err, custompdf.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, custompdf.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, "custom pdf not found")
		return
	default:
		writeError(w, http.StatusInternalServerError, "failed to load PDF")
		return
	}
	w.Header().Set("Content-Type", filetype.MIMEPDF)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.Title))
	_, _ = w.Write(data)
}
