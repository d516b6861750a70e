package batch

// TaskState is the lifecycle state reported by the remote task service.
type TaskState string

// Remote task states as they appear on the wire.
const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether the remote side will make no further progress.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskStatus is one poll response: the remote state plus the error text the
// service attaches to failed tasks.
type TaskStatus struct {
	State        TaskState
	ErrorMessage string
}

// Row is one input unit: a URL to render plus the title used to name its
// artifact. Rows are immutable once admitted into a batch.
type Row struct {
	URL         string
	Title       string
	SourceIndex int
}

// Outcome is the terminal result of driving one row through the task state
// machine. Exactly one Outcome is produced per admitted row: either a success
// carrying the downloaded artifact path, or a failure carrying a
// human-readable reason.
type Outcome struct {
	Row          Row
	Success      bool
	ArtifactPath string
	Reason       string
}

// Failure reasons recorded for rows that produce no artifact.
const (
	ReasonInvalidURL     = "invalid URL"
	ReasonSubmitFailed   = "task creation failed"
	ReasonTaskFailed     = "task timed out or failed"
	ReasonDownloadFailed = "download failed"
)

// Result summarizes one batch run for the caller. The counters always satisfy
// CompletedTasks+FailedTasks == TotalTasks; ArchivePath is empty unless an
// archive was written.
type Result struct {
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	ArchivePath    string
	Success        bool
	Errors         []string
}
