package model

import (
	"time"

	"github.com/google/uuid"
)

// Wire names for the entity types carried in push/pull changesets.
const (
	EntityCaptures = "captures"
	EntityTasks    = "tasks"
	EntityEvents   = "events"
	EntityNotes    = "notes"
	EntityTags     = "tags"
	EntityFolders  = "folders"
)

// Task is the actionable derived entity created when a capture is
// classified as a task.
type Task struct {
	ID          string     `json:"id"`
	CaptureID   string     `json:"capture_id"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SortOrder   int        `json:"sort_order"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask builds a task derived from the given capture.
func NewTask(captureID string, deadline *time.Time) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.NewString(),
		CaptureID: captureID,
		Deadline:  deadline,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Event is the calendar derived entity for schedule captures.
type Event struct {
	ID         string     `json:"id"`
	CaptureID  string     `json:"capture_id"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Location   string     `json:"location,omitempty"`
	AllDay     bool       `json:"all_day"`
	Confidence Confidence `json:"confidence,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewEvent builds an event derived from the given capture.
func NewEvent(captureID string) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:        uuid.NewString(),
		CaptureID: captureID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Note is the folder-routed derived entity for note captures.
type Note struct {
	ID        string    `json:"id"`
	CaptureID string    `json:"capture_id"`
	FolderID  string    `json:"folder_id,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNote builds a note derived from the given capture.
func NewNote(captureID, folderID string) *Note {
	now := time.Now().UTC()
	return &Note{
		ID:        uuid.NewString(),
		CaptureID: captureID,
		FolderID:  folderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Tag is a label attached to captures. Tags are deduplicated by name.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Folder groups notes. System folders exist from first run and cannot be
// removed by the user.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // "system" or "user"
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// System folder ids. Note captures are routed here by sub-type.
const (
	FolderInboxID     = "folder-system-inbox"
	FolderIdeasID     = "folder-system-ideas"
	FolderBookmarksID = "folder-system-bookmarks"
)

// FolderForSubType maps a note sub-type to the system folder it lands in.
func FolderForSubType(sub NoteSubType) string {
	switch sub {
	case SubTypeIdea:
		return FolderIdeasID
	case SubTypeBookmark:
		return FolderBookmarksID
	default:
		return FolderInboxID
	}
}
