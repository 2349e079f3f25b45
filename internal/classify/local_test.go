package classify

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/flitapp/flit-sync/internal/model"
)

func classifyLocal(t *testing.T, text string) *model.Classification {
	t.Helper()
	l := NewLocal()
	result, err := l.Classify(context.Background(), text, model.SourceText)
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	return result
}

func TestLocal_Schedule(t *testing.T) {
	result := classifyLocal(t, "meeting with sam tomorrow at 3pm")
	if result.Type != model.TypeSchedule {
		t.Fatalf("type = %q, want schedule", result.Type)
	}
	if result.Schedule == nil || result.Schedule.Start == nil {
		t.Error("schedule start not extracted")
	}
}

func TestLocal_TaskWithDeadline(t *testing.T) {
	result := classifyLocal(t, "submit the expense report by friday")
	if result.Type != model.TypeTask {
		t.Fatalf("type = %q, want task", result.Type)
	}
	if result.Task == nil || result.Task.Deadline == nil {
		t.Error("deadline not extracted")
	}
}

func TestLocal_Bookmark(t *testing.T) {
	result := classifyLocal(t, "https://example.com/article-about-go")
	if result.Type != model.TypeNote {
		t.Fatalf("type = %q, want note", result.Type)
	}
	if result.NoteSubType != model.SubTypeBookmark {
		t.Errorf("sub-type = %q, want bookmark", result.NoteSubType)
	}
}

func TestLocal_Idea(t *testing.T) {
	result := classifyLocal(t, "idea: a lamp that dims with the sunset")
	if result.NoteSubType != model.SubTypeIdea {
		t.Errorf("sub-type = %q, want idea", result.NoteSubType)
	}
}

func TestLocal_QuickNote(t *testing.T) {
	result := classifyLocal(t, "wifi password is hunter2")
	if result.Type != model.TypeQuickNote {
		t.Errorf("type = %q, want quick_note", result.Type)
	}
}

func TestLocal_LongTextFallsToInbox(t *testing.T) {
	long := "some meandering thoughts about the garden\nand the fence\nand the neighbor's dog"
	result := classifyLocal(t, long)
	if result.Type != model.TypeNote || result.NoteSubType != model.SubTypeInbox {
		t.Errorf("got %q/%q, want note/inbox", result.Type, result.NoteSubType)
	}
}

func TestTitleFrom(t *testing.T) {
	if got := titleFrom("first line\nsecond line"); got != "first line" {
		t.Errorf("titleFrom = %q, want first line", got)
	}
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	if got := titleFrom(string(long)); utf8.RuneCountInString(got) > 80 {
		t.Errorf("title not truncated: %d chars", utf8.RuneCountInString(got))
	}
}

func TestTitleFrom_MultibyteTruncation(t *testing.T) {
	got := titleFrom(strings.Repeat("日本語のメモ", 30))
	if !utf8.ValidString(got) {
		t.Fatalf("truncated title is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 {
		t.Errorf("title length = %d runes, want 80", n)
	}
}

func TestNormalize_UnknownValues(t *testing.T) {
	c := normalize(&model.Classification{Type: "banana", Confidence: "huge"})
	if c.Type != model.TypeNote {
		t.Errorf("type = %q, want note fallback", c.Type)
	}
	if c.NoteSubType != model.SubTypeInbox {
		t.Errorf("sub-type = %q, want inbox fallback", c.NoteSubType)
	}
	if c.Confidence != model.ConfidenceLow {
		t.Errorf("confidence = %q, want low fallback", c.Confidence)
	}
}

func TestLocal_DeterministicBase(t *testing.T) {
	l := NewLocal()
	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	result, err := l.Classify(context.Background(), "meeting with alex tomorrow at 10am", model.SourceText)
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if result.Schedule == nil || result.Schedule.Start == nil {
		t.Fatal("schedule start not extracted")
	}
	if result.Schedule.Start.Day() != 28 {
		t.Errorf("start day = %d, want 28 (tomorrow)", result.Schedule.Start.Day())
	}
}
