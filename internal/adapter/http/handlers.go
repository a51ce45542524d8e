package http

import (
	"net/http"

	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/middleware"
	"github.com/mapcrew/tasking/internal/service"
)

// Handlers bundles the application services behind the REST API.
type Handlers struct {
	locks      *service.LockService
	validation *service.ValidationService
	revert     *service.RevertService
	history    *service.HistoryService
}

// NewHandlers creates the handler set.
func NewHandlers(
	locks *service.LockService,
	validation *service.ValidationService,
	revert *service.RevertService,
	history *service.HistoryService,
) *Handlers {
	return &Handlers{
		locks:      locks,
		validation: validation,
		revert:     revert,
		history:    history,
	}
}

// LockForMapping handles POST /projects/{projectID}/tasks/{taskID}/lock-for-mapping.
func (h *Handlers) LockForMapping(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	userID := middleware.ActorIDFromContext(r.Context())

	t, err := h.locks.LockForMapping(r.Context(), projectID, taskID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type unlockMappingRequest struct {
	Status  task.Status `json:"status"`
	Comment string      `json:"comment,omitempty"`
}

// UnlockAfterMapping handles POST /projects/{projectID}/tasks/{taskID}/unlock-after-mapping.
func (h *Handlers) UnlockAfterMapping(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[unlockMappingRequest](w, r)
	if !ok {
		return
	}
	userID := middleware.ActorIDFromContext(r.Context())

	t, err := h.locks.UnlockAfterMapping(r.Context(), projectID, taskID, userID, req.Status, req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type lockValidationRequest struct {
	TaskIDs []int `json:"task_ids"`
}

// LockForValidation handles POST /projects/{projectID}/tasks/lock-for-validation.
func (h *Handlers) LockForValidation(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[lockValidationRequest](w, r)
	if !ok {
		return
	}
	if len(req.TaskIDs) == 0 {
		writeError(w, http.StatusBadRequest, "task_ids is required")
		return
	}
	userID := middleware.ActorIDFromContext(r.Context())

	tasks, err := h.locks.LockForValidation(r.Context(), projectID, req.TaskIDs, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type unlockValidationRequest struct {
	Tasks []service.TaskUnlock `json:"tasks"`
}

type unlockValidationResponse struct {
	Tasks []task.Task `json:"tasks"`
	Error string      `json:"error,omitempty"`
}

// UnlockAfterValidation handles POST /projects/{projectID}/tasks/unlock-after-validation.
// The batch is best-effort: completed units are returned even when a later
// unit fails, with the first failure reported alongside.
func (h *Handlers) UnlockAfterValidation(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[unlockValidationRequest](w, r)
	if !ok {
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "tasks is required")
		return
	}
	userID := middleware.ActorIDFromContext(r.Context())

	tasks, err := h.validation.UnlockBatchAfterValidation(r.Context(), projectID, userID, req.Tasks)
	if err != nil {
		if len(tasks) == 0 {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusMultiStatus, unlockValidationResponse{Tasks: tasks, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, unlockValidationResponse{Tasks: tasks})
}

type resetLockRequest struct {
	Comment string `json:"comment,omitempty"`
}

// ResetLock handles POST /projects/{projectID}/tasks/{taskID}/reset-lock.
func (h *Handlers) ResetLock(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	var req resetLockRequest
	if r.ContentLength > 0 {
		if req, ok = readJSON[resetLockRequest](w, r); !ok {
			return
		}
	}
	userID := middleware.ActorIDFromContext(r.Context())

	t, err := h.locks.ResetLock(r.Context(), projectID, taskID, userID, req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Split handles POST /projects/{projectID}/tasks/{taskID}/split.
func (h *Handlers) Split(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	userID := middleware.ActorIDFromContext(r.Context())

	children, err := h.locks.Split(r.Context(), projectID, taskID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, children)
}

type revertRequest struct {
	UserID int64       `json:"user_id"`
	Status task.Status `json:"status"`
}

// RevertUserTasks handles POST /projects/{projectID}/revert.
func (h *Handlers) RevertUserTasks(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[revertRequest](w, r)
	if !ok {
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	actingUserID := middleware.ActorIDFromContext(r.Context())

	if err := h.revert.RevertUserTasks(r.Context(), projectID, req.UserID, actingUserID, req.Status); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TaskHistory handles GET /projects/{projectID}/tasks/{taskID}/history.
func (h *Handlers) TaskHistory(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.history.Feed(r.Context(), projectID, taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []task.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
