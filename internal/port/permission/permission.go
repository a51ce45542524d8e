// Package permission defines the permission decision port consumed by the
// lifecycle engine. How decisions are computed is a collaborator concern; the
// core only consumes the allow/deny result plus a reason code.
package permission

import (
	"context"

	"github.com/mapcrew/tasking/internal/domain"
)

// Decision is an allow/deny result. Reason is set only when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  domain.Reason
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny builds a negative decision with the given reason code.
func Deny(reason domain.Reason) Decision {
	return Decision{Reason: reason}
}

// Checker answers permission questions for lifecycle operations.
type Checker interface {
	CanMap(ctx context.Context, projectID, userID int64) (Decision, error)
	CanValidate(ctx context.Context, projectID, userID int64) (Decision, error)
	IsElevated(ctx context.Context, projectID, userID int64) (bool, error)
}
