package classify

import (
	"context"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/flitapp/flit-sync/internal/model"
)

// Heuristic word lists for local classification. Intentionally small;
// anything ambiguous falls through to an inbox note.
var (
	scheduleWords = []string{
		"meet", "meeting", "appointment", "call with", "lunch with",
		"dinner with", "interview", "standup", "sync with",
	}
	taskWords = []string{
		"todo", "to do", "buy", "call ", "email ", "send ", "fix ",
		"submit", "finish", "remember to", "pick up", "pay ",
	}
	ideaWords = []string{"idea:", "idea ", "what if", "maybe we could"}
)

const quickNoteMaxLen = 60

// Local is a heuristic classifier that runs entirely on-device. It is
// far less capable than the remote service but lets capture triage keep
// working with no account and no network.
type Local struct {
	parser *when.Parser
	now    func() time.Time
}

// NewLocal builds the heuristic classifier.
func NewLocal() *Local {
	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)
	return &Local{parser: parser, now: time.Now}
}

func (l *Local) Classify(_ context.Context, text string, _ model.Source) (*model.Classification, error) {
	lower := strings.ToLower(text)

	parsed, err := l.parser.Parse(text, l.now())
	if err != nil {
		parsed = nil
	}

	result := &model.Classification{
		Confidence: model.ConfidenceLow,
		Title:      titleFrom(text),
	}

	switch {
	case containsAny(lower, scheduleWords) && parsed != nil:
		result.Type = model.TypeSchedule
		result.Confidence = model.ConfidenceMedium
		start := parsed.Time
		result.Schedule = &model.ScheduleInfo{Start: &start}

	case containsAny(lower, taskWords):
		result.Type = model.TypeTask
		result.Confidence = model.ConfidenceMedium
		if parsed != nil {
			deadline := parsed.Time
			result.Task = &model.TaskInfo{Deadline: &deadline}
		}

	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		result.Type = model.TypeNote
		result.NoteSubType = model.SubTypeBookmark

	case containsAny(lower, ideaWords):
		result.Type = model.TypeNote
		result.NoteSubType = model.SubTypeIdea

	case len(text) <= quickNoteMaxLen && !strings.Contains(text, "\n"):
		result.Type = model.TypeQuickNote

	default:
		result.Type = model.TypeNote
		result.NoteSubType = model.SubTypeInbox
	}

	return result, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// titleFrom derives a short title from the first line of the text.
func titleFrom(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	const max = 80
	if runes := []rune(line); len(runes) > max {
		line = strings.TrimSpace(string(runes[:max]))
	}
	return line
}
