package store

import (
	"bytes"
	"encoding/json"
	"time"
)

// Session statuses.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Agent statuses.
const (
	AgentActive    = "active"
	AgentCompleted = "completed"
)

// Task statuses in workflow order. Any other value is accepted as-is.
const (
	TaskIdea        = "idea"
	TaskBacklog     = "backlog"
	TaskPending     = "pending"
	TaskInProgress  = "in_progress"
	TaskNeedsReview = "needs_review"
	TaskCompleted   = "completed"
	TaskCancelled   = "cancelled"
)

// Well-known context entry and comment types.
const (
	EntryAgentSummary = "agent_summary"
	EntryDecision     = "decision"
	EntryBlocker      = "blocker"
	EntryHandoff      = "handoff"
	EntryTodoWarning  = "todo_warning"

	CommentPlain        = "comment"
	CommentPlan         = "plan"
	CommentStatusChange = "status_change"
)

// Project is a registered working directory.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one assistant session.
type Session struct {
	ID        string     `json:"id"`
	ProjectID *string    `json:"project_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

// Agent is a sub-agent within a session. ParentAgentID may point at any
// agent id, including one that was never recorded.
type Agent struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	AgentName      string     `json:"agent_name"`
	AgentType      *string    `json:"agent_type"`
	ParentAgentID  *string    `json:"parent_agent_id"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ContextSummary *string    `json:"context_summary"`
}

// Task is a work item on the project board.
type Task struct {
	ID          int64     `json:"id"`
	ProjectID   *string   `json:"project_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	AssignedTo  *string   `json:"assigned_to"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AssignedTask is a task together with its latest plan comment.
type AssignedTask struct {
	Task
	Plan *string `json:"plan,omitempty"`
}

// NewTask holds the fields accepted when creating a task.
type NewTask struct {
	ProjectID   *string  `json:"project_id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Status      string   `json:"status"`
	AssignedTo  *string  `json:"assigned_to"`
	Tags        []string `json:"tags"`
}

// OptionalString represents a nullable string update.
// Set=false leaves the column untouched; Set=true with a nil Value clears it.
type OptionalString struct {
	Set   bool
	Value *string
}

// SetString returns an update that sets the field to v.
func SetString(v string) OptionalString {
	return OptionalString{Set: true, Value: &v}
}

// ClearString returns an update that sets the field to null.
func ClearString() OptionalString {
	return OptionalString{Set: true}
}

// UnmarshalJSON marks the field as set; JSON null clears it.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// OptionalTags represents a nullable tag list update.
type OptionalTags struct {
	Set   bool
	Value []string
}

// UnmarshalJSON marks the field as set; JSON null clears it.
func (o *OptionalTags) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// TaskUpdate is a sparse task update. Only fields with Set=true are written.
type TaskUpdate struct {
	ProjectID   OptionalString `json:"project_id"`
	Title       OptionalString `json:"title"`
	Description OptionalString `json:"description"`
	Status      OptionalString `json:"status"`
	AssignedTo  OptionalString `json:"assigned_to"`
	Tags        OptionalTags   `json:"tags"`
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return !u.ProjectID.Set && !u.Title.Set && !u.Description.Set &&
		!u.Status.Set && !u.AssignedTo.Set && !u.Tags.Set
}

// TaskComment is a note attached to a task.
type TaskComment struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	Author      *string   `json:"author"`
	CommentType string    `json:"comment_type"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContextEntry is a piece of shared session knowledge.
type ContextEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	AgentID   *string   `json:"agent_id"`
	EntryType string    `json:"entry_type"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`

	// AgentName is only populated by cross-session lookups.
	AgentName *string `json:"agent_name,omitempty"`
}

// FileChange records a file an agent created or edited.
type FileChange struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	AgentID    *string   `json:"agent_id"`
	FilePath   string    `json:"file_path"`
	ChangeType string    `json:"change_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Activity is one line of the human-readable activity feed.
type Activity struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	AgentID   *string         `json:"agent_id"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event is a raw hook payload exactly as received.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  *string   `json:"session_id"`
	EventType  string    `json:"event_type"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalSessions       int `json:"total_sessions"`
	ActiveSessions      int `json:"active_sessions"`
	TotalAgents         int `json:"total_agents"`
	ActiveAgents        int `json:"active_agents"`
	TotalContextEntries int `json:"total_context_entries"`
	TotalFileChanges    int `json:"total_file_changes"`
	TotalTasks          int `json:"total_tasks"`
	OpenTasks           int `json:"open_tasks"`
}
