package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/model"
)

const classifyPrompt = `You are a capture classifier for a note-taking app.
Classify the user's captured text into exactly one of: schedule, task, note, quick_note.
For notes, also pick a sub-type: inbox, idea, or bookmark.
Extract a short title, up to 5 tags, schedule times (ISO 8601) when present,
and a task deadline when present. If the text contains several unrelated
intents, list each in split_items with its own classification.

Respond with JSON only, no prose, in this shape:
{"classified_type":"...","note_sub_type":"...","confidence":"low|medium|high",
"ai_title":"...","tags":[],"schedule_info":{"start_time":null,"end_time":null,
"location":"","is_all_day":false},"todo_info":{"deadline":null},"split_items":[]}

Text to classify:
`

// Anthropic classifies captures by calling the Anthropic API directly,
// for users who bring their own key instead of the capture service.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic builds the direct-API classifier. An empty model selects
// a current default.
func NewAnthropic(apiKey, modelName string) *Anthropic {
	if modelName == "" {
		modelName = string(anthropic.ModelClaudeSonnet4_0)
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(modelName),
	}
}

func (a *Anthropic) Classify(ctx context.Context, text string, _ model.Source) (*model.Classification, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(classifyPrompt + text)),
		},
	})
	if err != nil {
		// SDK status errors carry the HTTP code; fold them into the
		// shared taxonomy so the queue retries overload and rate limits.
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			return nil, api.StatusError(sdkErr.StatusCode, "anthropic request failed")
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("anthropic returned no content")
	}

	raw := extractJSON(msg.Content[0].Text)
	var dto api.ClassificationDTO
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return nil, fmt.Errorf("failed to parse classification from model output: %w", err)
	}
	return fromDTO(&dto), nil
}

// extractJSON trims any stray prose or code fences around the JSON body.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
