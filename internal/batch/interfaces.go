package batch

import (
	"context"
	"time"
)

// TaskService is the remote boundary the orchestrator drives. Implementations
// wrap the task HTTP API; tests substitute scripted fakes.
type TaskService interface {
	// Submit creates a remote task for url and returns its opaque ID.
	Submit(ctx context.Context, url, title string) (string, error)
	// PollStatus fetches the current state of a task.
	PollStatus(ctx context.Context, taskID string) (TaskStatus, error)
	// Download streams the finished artifact to dest and returns the byte
	// count plus the hex SHA-256 of the written content.
	Download(ctx context.Context, taskID, dest string) (int64, string, error)
}

// RowSource yields the rows of one input dataset.
type RowSource interface {
	Load(path string) ([]Row, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
