// Package classify turns raw capture text into structured results and
// applies them to the store.
//
// The Classifier interface has three implementations: the remote capture
// service (the default), a direct Anthropic API backend, and a local
// heuristic fallback that needs no network at all.
package classify

import (
	"context"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/model"
)

// Classifier produces a classification for capture content.
type Classifier interface {
	Classify(ctx context.Context, text string, source model.Source) (*model.Classification, error)
}

// Remote classifies through the capture service's classify endpoint.
type Remote struct {
	client *api.Client
}

// NewRemote builds the service-backed classifier.
func NewRemote(client *api.Client) *Remote {
	return &Remote{client: client}
}

func (r *Remote) Classify(ctx context.Context, text string, source model.Source) (*model.Classification, error) {
	dto, err := r.client.Classify(ctx, text, string(source))
	if err != nil {
		return nil, err
	}
	return fromDTO(dto), nil
}

// fromDTO maps the wire classification to the domain type.
func fromDTO(dto *api.ClassificationDTO) *model.Classification {
	result := &model.Classification{
		Type:        model.CaptureType(dto.ClassifiedType),
		NoteSubType: model.NoteSubType(dto.NoteSubType),
		Confidence:  model.Confidence(dto.Confidence),
		Title:       dto.AITitle,
		Tags:        dto.Tags,
	}
	if dto.ScheduleInfo != nil {
		result.Schedule = &model.ScheduleInfo{
			Start:    dto.ScheduleInfo.StartTime,
			End:      dto.ScheduleInfo.EndTime,
			Location: dto.ScheduleInfo.Location,
			AllDay:   dto.ScheduleInfo.IsAllDay,
		}
	}
	if dto.TodoInfo != nil {
		result.Task = &model.TaskInfo{Deadline: dto.TodoInfo.Deadline}
	}
	for _, item := range dto.SplitItems {
		if item.Classification == nil {
			continue
		}
		result.Splits = append(result.Splits, model.SplitItem{
			Text:           item.Text,
			Classification: *fromDTO(item.Classification),
		})
	}
	return normalize(result)
}

// normalize clamps unknown wire values to safe defaults so a newer
// server cannot produce an unreadable local row.
func normalize(c *model.Classification) *model.Classification {
	switch c.Type {
	case model.TypeSchedule, model.TypeTask, model.TypeNote, model.TypeQuickNote:
	default:
		c.Type = model.TypeNote
		c.NoteSubType = model.SubTypeInbox
	}
	switch c.Confidence {
	case model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh:
	default:
		c.Confidence = model.ConfidenceLow
	}
	if c.Type == model.TypeNote && c.NoteSubType == "" {
		c.NoteSubType = model.SubTypeInbox
	}
	return c
}
