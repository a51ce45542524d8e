// Package project defines the Project aggregate and its progress counters.
package project

import "time"

// Status represents the publication state of a project.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// Counters holds the incrementally maintained progress counters. Each counter
// tracks the number of tasks currently in the corresponding status; they are
// adjusted per transition rather than recomputed.
type Counters struct {
	TotalTasks int `json:"total_tasks"`
	Mapped     int `json:"tasks_mapped"`
	Validated  int `json:"tasks_validated"`
	BadImagery int `json:"tasks_bad_imagery"`
}

// Project is the aggregate owning a partitioned set of tasks.
type Project struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	AuthorID   int64     `json:"author_id"`
	LicenseID  *int64    `json:"license_id,omitempty"`
	Restricted bool      `json:"restricted"` // mapping limited to the allow list
	Counters   Counters  `json:"counters"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
