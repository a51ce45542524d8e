// Package broadcast defines the port for pushing live task events to
// connected clients.
package broadcast

import "context"

// Broadcaster fans a task event out to every client watching the project.
// Delivery is best-effort and never blocks the transition that produced it.
type Broadcaster interface {
	BroadcastTask(ctx context.Context, projectID int64, eventType string, payload any)
}
