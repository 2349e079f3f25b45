// Package model provides the domain types shared by the capture store,
// sync queue, and synchronizers.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CaptureType is the classification assigned to a capture.
type CaptureType string

const (
	// TypeUnclassified marks a capture that has not been classified yet.
	TypeUnclassified CaptureType = "unclassified"
	// TypeSchedule marks a capture classified as a calendar event.
	TypeSchedule CaptureType = "schedule"
	// TypeTask marks a capture classified as an actionable task.
	TypeTask CaptureType = "task"
	// TypeNote marks a capture classified as a note.
	TypeNote CaptureType = "note"
	// TypeQuickNote marks a short-form note that skips folder routing.
	TypeQuickNote CaptureType = "quick_note"
)

// NoteSubType routes note captures to a system folder.
type NoteSubType string

const (
	SubTypeInbox    NoteSubType = "inbox"
	SubTypeIdea     NoteSubType = "idea"
	SubTypeBookmark NoteSubType = "bookmark"
)

// Confidence is the classifier's self-reported certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Source identifies how a capture entered the system.
type Source string

const (
	SourceText    Source = "text"
	SourceImage   Source = "image"
	SourceVoice   Source = "voice"
	SourceWebClip Source = "web_clip"
	SourceShare   Source = "share"
	// SourceSplit marks a child capture produced by multi-intent splitting.
	SourceSplit Source = "split"
)

// Lifecycle is the capture's tagged lifecycle state. A capture is exactly
// one of active, trashed, or deleted; the deleted state is a tombstone
// retained for remote propagation until purged.
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "active"
	LifecycleTrashed Lifecycle = "trashed"
	LifecycleDeleted Lifecycle = "deleted"
)

// Capture is a single user-authored unit of content, before or after
// classification. IDs are client-generated and never change.
type Capture struct {
	ID           string      `json:"id"`
	OriginalText string      `json:"original_text"`
	Title        string      `json:"title,omitempty"` // set by classification
	Type         CaptureType `json:"type"`
	NoteSubType  NoteSubType `json:"note_sub_type,omitempty"`
	Confidence   Confidence  `json:"confidence,omitempty"`
	Source       Source      `json:"source"`

	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`

	Lifecycle Lifecycle  `json:"lifecycle"`
	TrashedAt *time.Time `json:"trashed_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	ImageRef        string `json:"image_ref,omitempty"`
	ParentCaptureID string `json:"parent_capture_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCapture builds an unclassified capture with a fresh id and timestamps.
func NewCapture(text string, source Source) *Capture {
	now := time.Now().UTC()
	return &Capture{
		ID:           uuid.NewString(),
		OriginalText: text,
		Type:         TypeUnclassified,
		Source:       source,
		Lifecycle:    LifecycleActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks the capture's field invariants.
func (c *Capture) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.OriginalText == "" && c.ImageRef == "" {
		return fmt.Errorf("capture must have text or an image reference")
	}
	switch c.Type {
	case TypeUnclassified, TypeSchedule, TypeTask, TypeNote, TypeQuickNote:
	default:
		return fmt.Errorf("unknown capture type %q", c.Type)
	}
	switch c.Lifecycle {
	case LifecycleActive, LifecycleTrashed, LifecycleDeleted:
	default:
		return fmt.Errorf("unknown lifecycle state %q", c.Lifecycle)
	}
	if c.Lifecycle == LifecycleTrashed && c.TrashedAt == nil {
		return fmt.Errorf("trashed capture must carry trashed_at")
	}
	if c.Lifecycle == LifecycleDeleted && c.DeletedAt == nil {
		return fmt.Errorf("deleted capture must carry deleted_at")
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		return fmt.Errorf("created_at and updated_at are required")
	}
	return nil
}

// IsTombstone reports whether the capture is a delete tombstone awaiting
// remote propagation.
func (c *Capture) IsTombstone() bool {
	return c.Lifecycle == LifecycleDeleted
}

// Touch bumps UpdatedAt. Every mutation must call this so the push
// synchronizer picks the row up in the next changeset.
func (c *Capture) Touch() {
	c.UpdatedAt = time.Now().UTC()
}
