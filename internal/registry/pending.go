package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"anonpost/internal/storage"
	"anonpost/pkg/logx"
)

const pendingMapping = "pending"

// Submission is one unit of anonymous content awaiting a moderation
// decision. The key ties the submitter's confirmed message to the
// admin's later decision across restarts.
type Submission struct {
	Key            string    `json:"-"`
	UserID         int64     `json:"user_id"`
	Text           string    `json:"text"`
	AdminMessageID int       `json:"admin_message_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// SubmissionKey derives the registry key from the submitting user and
// the message that carried the confirmation.
func SubmissionKey(userID int64, messageID int) string {
	return fmt.Sprintf("%d_%d", userID, messageID)
}

type Pending struct {
	store storage.Store
	log   logx.Logger
}

func NewPending(store storage.Store, log logx.Logger) *Pending {
	return &Pending{store: store, log: log}
}

func (r *Pending) Put(ctx context.Context, sub Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return r.store.Update(ctx, pendingMapping, func(m storage.Mapping) error {
		b, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		m[sub.Key] = b
		return nil
	})
}

// Take removes and returns the submission for key. A second Take of the
// same key reports ok=false; this is the workflow's idempotency guard,
// so a replayed decision finds nothing to act on.
func (r *Pending) Take(ctx context.Context, key string) (Submission, bool, error) {
	var (
		sub   Submission
		found bool
	)
	err := r.store.Update(ctx, pendingMapping, func(m storage.Mapping) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, &sub); err != nil {
			// Unreadable record: drop it so it cannot wedge the key forever.
			r.log.Warn("dropping unreadable pending entry", logx.String("key", key), logx.Err(err))
			delete(m, key)
			return nil
		}
		sub.Key = key
		found = true
		delete(m, key)
		return nil
	})
	if err != nil {
		return Submission{}, false, err
	}
	return sub, found, nil
}

// List returns pending submissions ordered oldest first.
func (r *Pending) List(ctx context.Context) ([]Submission, error) {
	m, err := r.store.Load(ctx, pendingMapping)
	if err != nil {
		return nil, err
	}
	out := make([]Submission, 0, len(m))
	for key, raw := range m {
		var sub Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			r.log.Warn("dropping unreadable pending entry", logx.String("key", key), logx.Err(err))
			continue
		}
		sub.Key = key
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
