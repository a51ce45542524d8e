package ws

// Event type identifiers for messages pushed to clients.
const (
	EventTaskStatus = "task.status"
)

// TaskStatusEvent announces a task transition to live task boards.
type TaskStatusEvent struct {
	ProjectID int64  `json:"project_id"`
	TaskID    int    `json:"task_id"`
	Status    string `json:"status"`
}
