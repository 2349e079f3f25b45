package model

import "time"

// ScheduleInfo carries the time fields extracted for schedule captures.
type ScheduleInfo struct {
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Location string     `json:"location,omitempty"`
	AllDay   bool       `json:"all_day"`
}

// TaskInfo carries the deadline extracted for task captures.
type TaskInfo struct {
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Classification is the result of classifying one capture's content.
type Classification struct {
	Type        CaptureType   `json:"type"`
	NoteSubType NoteSubType   `json:"note_sub_type,omitempty"`
	Confidence  Confidence    `json:"confidence"`
	Title       string        `json:"title"`
	Tags        []string      `json:"tags,omitempty"`
	Schedule    *ScheduleInfo `json:"schedule,omitempty"`
	Task        *TaskInfo     `json:"task,omitempty"`

	// Splits is non-empty when the classifier detected multiple intents
	// in one capture; each split becomes a child capture.
	Splits []SplitItem `json:"splits,omitempty"`

	Metadata        map[string]string `json:"metadata,omitempty"`
	DestinationPath string            `json:"destination_path,omitempty"`
}

// SplitItem is one intent extracted from a multi-intent capture.
type SplitItem struct {
	Text           string `json:"text"`
	Classification `json:"classification"`
}
