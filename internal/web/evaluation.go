package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/evaluation"
	"github.com/local/notesync/internal/store"
)

type outcomeView struct {
	evaluation.Outcome
	Error string `json:"error,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	courseID, week, ok := weekParam(w, r)
	if !ok {
		return
	}
	if !s.requireProfessor(w, r, courseID, "only the course professor can trigger evaluation") {
		return
	}
	if s.deps.Evaluator == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation is disabled")
		return
	}
	rep, err := s.deps.Evaluator.EvaluateNow(r.Context(), courseID, week)
	if errors.Is(err, evaluation.ErrWeekBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("course_id", courseID).Int("week", week).Msg("manual evaluation failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	views := make([]outcomeView, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		v := outcomeView{Outcome: o}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		views = append(views, v)
	}
	scored, failed, skipped := rep.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"course_id": courseID,
		"week":      week,
		"completed": rep.Completed,
		"scored":    scored,
		"failed":    failed,
		"skipped":   skipped,
		"outcomes":  views,
	})
}

type submissionView struct {
	MaterialID string   `json:"material_id"`
	UploaderID string   `json:"uploader_id"`
	Score      *float64 `json:"score"`
	Completed  bool     `json:"completed"`
	Attempts   int      `json:"attempts"`
	Abandoned  bool     `json:"abandoned"`
	LastError  string   `json:"last_error,omitempty"`
	Summary    any      `json:"summary,omitempty"`
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	courseID, week, ok := weekParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	state := "no-deadline"
	var deadline, completedAt *time.Time
	wk, err := s.deps.Directory.Week(ctx, courseID, week)
	switch {
	case errors.Is(err, directory.ErrNotFound):
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load week")
		return
	default:
		deadline, completedAt = wk.UploadDeadline, wk.CompletedAt
		if wk.UploadDeadline != nil || wk.EvaluationStatus == directory.WeekCompleted {
			state = string(wk.EvaluationStatus)
		}
	}

	var reference *directory.Material
	switch ref, err := s.deps.Directory.ReferenceMaterial(ctx, courseID, week); {
	case errors.Is(err, directory.ErrNotFound):
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load reference material")
		return
	default:
		reference = ref
	}

	materials, err := s.deps.Directory.ListPeerMaterials(ctx, courseID, week)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	subs := make([]submissionView, 0, len(materials))
	for _, m := range materials {
		v := submissionView{
			MaterialID: m.ID, UploaderID: m.UploaderID, Score: m.EvaluationScore,
			Completed: m.EvaluationCompleted, Attempts: m.EvaluationAttempts,
			Abandoned: m.EvaluationAbandoned, LastError: m.LastEvaluationError,
		}
		if m.EvaluationSummary != "" {
			var sum evaluation.Summary
			if json.Unmarshal([]byte(m.EvaluationSummary), &sum) == nil {
				v.Summary = sum
			}
		}
		subs = append(subs, v)
	}

	var latest *store.RunStatus
	if s.deps.Runs != nil {
		if st, found, err := s.deps.Runs.Get(ctx, courseID, week); err == nil && found {
			latest = &st
		} else if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read run status")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"course_id":         courseID,
		"week":              week,
		"evaluation_status": state,
		"upload_deadline":   deadline,
		"completed_at":      completedAt,
		"latest_run":        latest,
		"reference":         reference,
		"submissions":       subs,
	})
}

type deadlineReq struct {
	UploadDeadline *time.Time `json:"upload_deadline"`
}

func (s *Server) handleSetDeadline(w http.ResponseWriter, r *http.Request) {
	courseID, week, ok := weekParam(w, r)
	if !ok {
		return
	}
	if !s.requireProfessor(w, r, courseID, "only the course professor can set deadlines") {
		return
	}
	ctx := r.Context()
	defer r.Body.Close()
	var req deadlineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Directory.SetWeekDeadline(ctx, courseID, week, req.UploadDeadline); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save deadline")
		return
	}
	wk, err := s.deps.Directory.Week(ctx, courseID, week)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load week")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "week": wk})
}

// requireProfessor writes the error response and returns false unless the caller teaches the course.
func (s *Server) requireProfessor(w http.ResponseWriter, r *http.Request, courseID, denied string) bool {
	userID, ok := requester(w, r)
	if !ok {
		return false
	}
	course, err := s.deps.Directory.Course(r.Context(), courseID)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "course not found")
		return false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load course")
		return false
	}
	if course.ProfessorID != userID {
		writeError(w, http.StatusForbidden, denied)
		return false
	}
	return true
}
