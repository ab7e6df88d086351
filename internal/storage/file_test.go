package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"anonpost/pkg/logx"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	st := newTestStore(t)
	m, err := st.Load(context.Background(), "users")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty mapping, got %d entries", len(m))
	}
}

func TestLoadMalformedReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := os.WriteFile(filepath.Join(dir, "pending.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := st.Load(context.Background(), "pending")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty mapping for malformed file, got %d entries", len(m))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := Mapping{
		"1": json.RawMessage(`{"name":"a"}`),
		"2": json.RawMessage(`{"name":"b"}`),
	}
	if err := st.Save(ctx, "users", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := st.Load(ctx, "users")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	var got struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(out["2"], &got); err != nil || got.Name != "b" {
		t.Fatalf("entry 2 = %s (err=%v)", out["2"], err)
	}
}

func TestUpdateMutates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Update(ctx, "pending", func(m Mapping) error {
		m["k"] = json.RawMessage(`1`)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	err = st.Update(ctx, "pending", func(m Mapping) error {
		if _, ok := m["k"]; !ok {
			t.Fatal("previous update not visible")
		}
		delete(m, "k")
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	m, err := st.Load(ctx, "pending")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty mapping after delete, got %d", len(m))
	}
}

func TestUpdateErrorDiscardsWrite(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	wantErr := fmt.Errorf("boom")
	err := st.Update(ctx, "pending", func(m Mapping) error {
		m["k"] = json.RawMessage(`1`)
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Update err = %v, want %v", err, wantErr)
	}
	m, _ := st.Load(ctx, "pending")
	if len(m) != 0 {
		t.Fatalf("failed update must not persist, got %d entries", len(m))
	}
}

func TestConcurrentUpdatesNoLostWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := st.Update(ctx, "users", func(m Mapping) error {
				m[fmt.Sprintf("u%d", i)] = json.RawMessage(`true`)
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	m, err := st.Load(ctx, "users")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != n {
		t.Fatalf("lost updates: got %d entries, want %d", len(m), n)
	}
}
