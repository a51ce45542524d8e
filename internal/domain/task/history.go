package task

import "time"

// Action classifies a history ledger entry.
type Action string

const (
	ActionStateChange               Action = "STATE_CHANGE"
	ActionComment                   Action = "COMMENT"
	ActionLockedForMapping          Action = "LOCKED_FOR_MAPPING"
	ActionLockedForValidation       Action = "LOCKED_FOR_VALIDATION"
	ActionAutoUnlockedForMapping    Action = "AUTO_UNLOCKED_FOR_MAPPING"
	ActionAutoUnlockedForValidation Action = "AUTO_UNLOCKED_FOR_VALIDATION"
	ActionTaskReset                 Action = "TASK_RESET"
	ActionTaskSplit                 Action = "TASK_SPLIT"
)

// MappingIssue records a categorized problem found during validation.
// Issues are attached only to STATE_CHANGE entries into VALIDATED or
// INVALIDATED.
type MappingIssue struct {
	CategoryID int64  `json:"category_id"`
	Issue      string `json:"issue"`
	Count      int    `json:"count"`
}

// HistoryEntry is one immutable, append-only record of a task transition.
// For STATE_CHANGE entries ActionText holds the resulting status name; the
// ledger is the sole source of truth for a task's previous status.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	TaskID     int            `json:"task_id"`
	ProjectID  int64          `json:"project_id"`
	Action     Action         `json:"action"`
	ActionText string         `json:"action_text,omitempty"`
	ActionDate time.Time      `json:"action_date"`
	UserID     int64          `json:"user_id"`
	Issues     []MappingIssue `json:"issues,omitempty"`
}

// StateChange builds a STATE_CHANGE entry recording the resulting status.
func StateChange(t *Task, userID int64, result Status, issues []MappingIssue) *HistoryEntry {
	return &HistoryEntry{
		TaskID:     t.ID,
		ProjectID:  t.ProjectID,
		Action:     ActionStateChange,
		ActionText: string(result),
		UserID:     userID,
		Issues:     issues,
	}
}
