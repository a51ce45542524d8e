// Package notifier defines the outbound notification port. Delivery is
// best-effort: failures are logged by callers, never propagated into the
// transition result.
package notifier

import (
	"context"

	"github.com/mapcrew/tasking/internal/domain/task"
)

// ValidationResult tells a mapper the outcome of validation on their work.
type ValidationResult struct {
	ProjectID   int64       `json:"project_id"`
	TaskID      int         `json:"task_id"`
	Status      task.Status `json:"status"`
	ValidatorID int64       `json:"validator_id"`
	MapperID    int64       `json:"mapper_id"`
}

// Mention asks the mention parser to fan out @-mentions in a comment.
type Mention struct {
	ProjectID  int64  `json:"project_id"`
	TaskID     int    `json:"task_id"`
	FromUserID int64  `json:"from_user_id"`
	Comment    string `json:"comment"`
}

// Notifier dispatches notifications to interested users.
type Notifier interface {
	NotifyValidationResult(ctx context.Context, n ValidationResult) error
	NotifyMentions(ctx context.Context, m Mention) error
}
