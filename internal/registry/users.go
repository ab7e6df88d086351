package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"anonpost/internal/storage"
	"anonpost/pkg/logx"
)

const usersMapping = "users"

// User is one known bot user, recorded on first /start for later
// broadcast targeting. Entries are never deleted.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type Users struct {
	store storage.Store
	log   logx.Logger
}

func NewUsers(store storage.Store, log logx.Logger) *Users {
	return &Users{store: store, log: log}
}

// Upsert records the user. Re-inserting an existing id overwrites the
// entry, so repeat /start calls stay idempotent.
func (r *Users) Upsert(ctx context.Context, u User) error {
	return r.store.Update(ctx, usersMapping, func(m storage.Mapping) error {
		b, err := json.Marshal(u)
		if err != nil {
			return err
		}
		m[strconv.FormatInt(u.ID, 10)] = b
		return nil
	})
}

// Snapshot returns all known users sorted by id.
func (r *Users) Snapshot(ctx context.Context) ([]User, error) {
	m, err := r.store.Load(ctx, usersMapping)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(m))
	for key, raw := range m {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			r.log.Warn("dropping unreadable user entry", logx.String("key", key), logx.Err(err))
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of known users.
func (r *Users) Count(ctx context.Context) (int, error) {
	m, err := r.store.Load(ctx, usersMapping)
	if err != nil {
		return 0, err
	}
	return len(m), nil
}
