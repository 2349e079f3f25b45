// Package backup exports and imports the capture store as JSONL, one
// entity per line. The format is the same full-row JSON the synchronizer
// pushes, so a backup taken on one device imports cleanly on another.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

// Record is one JSONL line.
type Record struct {
	EntityType string          `json:"entity_type"`
	Data       json.RawMessage `json:"data"`
}

// Result reports counts from an export or import.
type Result struct {
	Captures int
	Tasks    int
	Events   int
	Notes    int
	Tags     int
	Folders  int
}

// Total returns the number of records handled.
func (r Result) Total() int {
	return r.Captures + r.Tasks + r.Events + r.Notes + r.Tags + r.Folders
}

// Export writes the entire store to w, tombstones included.
func Export(ctx context.Context, db *store.DB, w io.Writer) (Result, error) {
	var result Result
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	write := func(entity string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s record: %w", entity, err)
		}
		return enc.Encode(Record{EntityType: entity, Data: data})
	}

	// Parents first so import can stream line by line.
	folders, err := db.GetFoldersForSync(ctx, time.Time{})
	if err != nil {
		return result, err
	}
	for _, f := range folders {
		if err := write(model.EntityFolders, f); err != nil {
			return result, err
		}
		result.Folders++
	}

	tags, err := db.GetTagsForSync(ctx, time.Time{})
	if err != nil {
		return result, err
	}
	for _, t := range tags {
		if err := write(model.EntityTags, t); err != nil {
			return result, err
		}
		result.Tags++
	}

	captures, err := db.GetCapturesForSync(ctx, time.Time{})
	if err != nil {
		return result, err
	}
	for _, c := range captures {
		if err := write(model.EntityCaptures, c); err != nil {
			return result, err
		}
		result.Captures++
	}

	tasks, err := db.GetTasksForSync(ctx, time.Time{})
	if err != nil {
		return result, err
	}
	for _, t := range tasks {
		if err := write(model.EntityTasks, t); err != nil {
			return result, err
		}
		result.Tasks++
	}

	events, err := db.GetEventsForSync(ctx, time.Time{})
	if err != nil {
		return result, err
	}
	for _, e := range events {
		if err := write(model.EntityEvents, e); err != nil {
			return result, err
		}
		result.Events++
	}

	notes, err := db.GetNotesForSync(ctx, time.Time{})
	if err != nil {
		return result, err
	}
	for _, n := range notes {
		if err := write(model.EntityNotes, n); err != nil {
			return result, err
		}
		result.Notes++
	}

	return result, bw.Flush()
}

// Import reads JSONL records from r and upserts them. Existing rows with
// the same ids are overwritten; everything else is left alone.
func Import(ctx context.Context, db *store.DB, r io.Reader) (Result, error) {
	var result Result
	var changes []store.RemoteChange

	dec := json.NewDecoder(bufio.NewReader(r))
	line := 0
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return result, fmt.Errorf("invalid JSON at record %d: %w", line+1, err)
		}
		line++

		var idHolder struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rec.Data, &idHolder); err != nil || idHolder.ID == "" {
			return result, fmt.Errorf("record %d (%s) has no id", line, rec.EntityType)
		}

		changes = append(changes, store.RemoteChange{
			EntityType: rec.EntityType,
			Operation:  "create",
			ID:         idHolder.ID,
			Data:       rec.Data,
		})

		switch rec.EntityType {
		case model.EntityCaptures:
			result.Captures++
		case model.EntityTasks:
			result.Tasks++
		case model.EntityEvents:
			result.Events++
		case model.EntityNotes:
			result.Notes++
		case model.EntityTags:
			result.Tags++
		case model.EntityFolders:
			result.Folders++
		}
	}

	if err := db.ApplyRemoteChanges(ctx, changes); err != nil {
		return result, err
	}
	return result, nil
}
