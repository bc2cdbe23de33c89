package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/service"
)

// api exposes the progression core to the UI layer. The UI consumes the
// derived view as read-only state and mutates only through these
// endpoints.
type api struct {
	manager           *progress.Manager
	defaultSequential bool
}

func newMux(a *api) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz)

	if a != nil {
		mux.HandleFunc("POST /v1/courses", a.handleStartCourse)
		mux.HandleFunc("GET /v1/courses/{id}", a.handleGetCourse)
		mux.HandleFunc("POST /v1/courses/{id}/position", a.handleAdvance)
		mux.HandleFunc("POST /v1/courses/{id}/lessons/{lessonID}/blocks/{blockID}/complete", a.handleCompleteBlock)
		mux.HandleFunc("POST /v1/courses/{id}/lessons/{lessonID}/finish", a.handleFinishLesson)
		mux.HandleFunc("POST /v1/courses/{id}/lessons/{lessonID}/generate", a.handleGenerate)
		mux.HandleFunc("POST /v1/courses/{id}/lessons/{lessonID}/generate/retry", a.handleRetryGenerate)
		mux.HandleFunc("POST /v1/courses/{id}/outline/regenerate", a.handleRegenerateOutline)
		mux.HandleFunc("POST /v1/courses/{id}/outline/refresh", a.handleRefreshOutline)
		mux.HandleFunc("POST /v1/courses/{id}/sync", a.handleSync)
		mux.HandleFunc("GET /v1/courses/{id}/report.xlsx", a.handleReport)
	}
	return mux
}

func (a *api) handleStartCourse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title            string `json:"title"`
		Emoji            string `json:"emoji"`
		SequentialUnlock *bool  `json:"sequential_unlock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	sequential := a.defaultSequential
	if body.SequentialUnlock != nil {
		sequential = *body.SequentialUnlock
	}

	course, err := a.manager.StartCourse(r.Context(), body.Title, body.Emoji, sequential)
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

func (a *api) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress.BuildView(sess))
}

func (a *api) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SectionID string `json:"section_id"`
		LessonID  string `json:"lesson_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LessonID == "" {
		writeError(w, http.StatusBadRequest, "lesson_id is required")
		return
	}

	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	if err := sess.Tracker.AdvanceTo(body.SectionID, body.LessonID); err != nil {
		a.writeFailure(w, err)
		return
	}

	// Opening a lesson with ungenerated blocks kicks off generation.
	if _, lesson, ok := sess.Model.FindLesson(body.LessonID); ok && lesson.BlocksStatus != outline.GenReady {
		sess.Generator.GenerateIfNeeded(context.WithoutCancel(r.Context()), body.LessonID)
	}

	if err := a.manager.Save(r.Context(), sess); err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress.BuildView(sess))
}

func (a *api) handleCompleteBlock(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	lessonDone, err := sess.Reconciler.CompleteBlock(r.Context(), r.PathValue("lessonID"), r.PathValue("blockID"))
	status := http.StatusOK
	if err != nil {
		if !errors.Is(err, progress.ErrSyncFailed) {
			a.writeFailure(w, err)
			return
		}
		// Optimistic state retained; confirmation queued for retry.
		status = http.StatusAccepted
	}

	if err := a.manager.Save(r.Context(), sess); err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"lesson_completed": lessonDone,
		"view":             progress.BuildView(sess),
	})
}

func (a *api) handleFinishLesson(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	next, err := sess.Reconciler.FinishLesson(r.Context(), r.PathValue("lessonID"))
	status := http.StatusOK
	if err != nil {
		if !errors.Is(err, progress.ErrSyncFailed) {
			a.writeFailure(w, err)
			return
		}
		status = http.StatusAccepted
	}

	if err := a.manager.Save(r.Context(), sess); err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"next": next,
		"view": progress.BuildView(sess),
	})
}

func (a *api) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	lessonID := r.PathValue("lessonID")
	if _, _, ok := sess.Model.FindLesson(lessonID); !ok {
		writeError(w, http.StatusNotFound, "lesson not found")
		return
	}
	sess.Generator.GenerateIfNeeded(context.WithoutCancel(r.Context()), lessonID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
}

func (a *api) handleRetryGenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	if err := sess.Generator.Retry(context.WithoutCancel(r.Context()), r.PathValue("lessonID")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
}

func (a *api) handleRegenerateOutline(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	if err := a.manager.RegenerateOutline(r.Context(), sess); err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress.BuildView(sess))
}

func (a *api) handleRefreshOutline(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	ready, err := a.manager.RefreshOutline(r.Context(), sess)
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	if !ready {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
		return
	}
	writeJSON(w, http.StatusOK, progress.BuildView(sess))
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	err = sess.Reconciler.FlushPending(r.Context())
	if saveErr := a.manager.Save(r.Context(), sess); saveErr != nil {
		a.writeFailure(w, saveErr)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"pending": sess.Cache.PendingCount(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": 0})
}

func (a *api) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	workbook, err := report.Build(progress.BuildView(sess))
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	defer workbook.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="progress.xlsx"`)
	if _, err := workbook.WriteTo(w); err != nil {
		slog.Error("failed to stream report", "error", err)
	}
}

// writeFailure maps core errors onto HTTP statuses.
func (a *api) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progress.ErrCourseNotFound),
		errors.Is(err, outline.ErrUnknownLesson),
		errors.Is(err, outline.ErrNoOutline):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, progress.ErrInvalidPosition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outline.ErrMalformedOutline),
		errors.Is(err, service.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("unhandled error in server", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
