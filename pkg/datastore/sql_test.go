package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/NicolasHaas/relaychat/pkg/datastore"
	"github.com/NicolasHaas/relaychat/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSQLStore(t *testing.T) *datastore.SQLStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := datastore.Open(dbPath)
	if err != nil {
		t.Fatalf("datastore_test: failed to open db: %v", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})
	return st
}

func TestRecordJoinValidation(t *testing.T) {
	t.Parallel()

	tcases := map[string]model.Presence{
		"missing_session_id": {Name: "alice"},
		"missing_name":       {SessionID: "s-1"},
		"blank_name":         {SessionID: "s-1", Name: "   "},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := NewTestSQLStore(t)
			p := tc
			if err := st.RecordJoin(context.Background(), &p); !errors.Is(err, datastore.ErrPresenceInvalid) {
				t.Fatalf("RecordJoin: expected ErrPresenceInvalid, got %v", err)
			}
		})
	}
}

func TestPresenceLifecycle(t *testing.T) {
	t.Parallel()
	st := NewTestSQLStore(t)
	ctx := context.Background()

	joined := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	alice := model.Presence{SessionID: "s-alice", Name: "alice", RemoteAddr: "127.0.0.1:5000", JoinedAt: joined}
	bob := model.Presence{SessionID: "s-bob", Name: "bob", RemoteAddr: "127.0.0.1:5001", JoinedAt: joined.Add(time.Second)}

	for _, p := range []*model.Presence{&alice, &bob} {
		if err := st.RecordJoin(ctx, p); err != nil {
			t.Fatalf("RecordJoin(%s): %v", p.Name, err)
		}
		if p.ID == 0 {
			t.Fatalf("RecordJoin(%s): expected non-zero ID", p.Name)
		}
	}

	left := joined.Add(time.Minute)
	if err := st.RecordLeave(ctx, "s-alice", left); err != nil {
		t.Fatalf("RecordLeave: %v", err)
	}
	if err := st.RecordLeave(ctx, "s-alice", left); !errors.Is(err, datastore.ErrPresenceNotFound) {
		t.Fatalf("RecordLeave twice: expected ErrPresenceNotFound, got %v", err)
	}

	all, err := st.ListPresence(ctx, model.PresenceFilters{})
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	want := []model.Presence{
		{SessionID: "s-bob", Name: "bob", RemoteAddr: "127.0.0.1:5001", JoinedAt: joined.Add(time.Second)},
		{SessionID: "s-alice", Name: "alice", RemoteAddr: "127.0.0.1:5000", JoinedAt: joined, LeftAt: left},
	}
	if diff := cmp.Diff(want, all, cmpopts.IgnoreFields(model.Presence{}, "ID")); diff != "" {
		t.Fatalf("ListPresence mismatch (-want +got):\n%s", diff)
	}

	online, err := st.ListPresence(ctx, model.PresenceFilters{OnlineOnly: true})
	if err != nil {
		t.Fatalf("ListPresence(online): %v", err)
	}
	if len(online) != 1 || online[0].Name != "bob" {
		t.Fatalf("ListPresence(online): expected only bob, got %+v", online)
	}

	name := "alice"
	byName, err := st.ListPresence(ctx, model.PresenceFilters{Name: &name})
	if err != nil {
		t.Fatalf("ListPresence(name): %v", err)
	}
	if len(byName) != 1 || byName[0].SessionID != "s-alice" {
		t.Fatalf("ListPresence(name): expected alice's row, got %+v", byName)
	}
}

func TestRecordJoinDuplicateSession(t *testing.T) {
	t.Parallel()
	st := NewTestSQLStore(t)
	ctx := context.Background()

	if err := st.RecordJoin(ctx, &model.Presence{SessionID: "s-1", Name: "alice"}); err != nil {
		t.Fatalf("RecordJoin: %v", err)
	}
	if err := st.RecordJoin(ctx, &model.Presence{SessionID: "s-1", Name: "alice"}); err == nil {
		t.Fatalf("RecordJoin: expected error for duplicate session id")
	}
}

func TestCloseDangling(t *testing.T) {
	t.Parallel()
	st := NewTestSQLStore(t)
	ctx := context.Background()

	for i, name := range []string{"alice", "bob", "carol"} {
		p := &model.Presence{SessionID: fmt.Sprintf("s-%d", i), Name: name}
		if err := st.RecordJoin(ctx, p); err != nil {
			t.Fatalf("RecordJoin(%s): %v", name, err)
		}
	}
	if err := st.RecordLeave(ctx, "s-0", time.Now()); err != nil {
		t.Fatalf("RecordLeave: %v", err)
	}

	n, err := st.CloseDangling(ctx, time.Now())
	if err != nil {
		t.Fatalf("CloseDangling: %v", err)
	}
	if n != 2 {
		t.Fatalf("CloseDangling: expected 2 rows closed, got %d", n)
	}

	online, err := st.ListPresence(ctx, model.PresenceFilters{OnlineOnly: true})
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	if len(online) != 0 {
		t.Fatalf("ListPresence(online): expected none, got %+v", online)
	}
}

func TestListPresencePaging(t *testing.T) {
	t.Parallel()
	st := NewTestSQLStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p := &model.Presence{SessionID: fmt.Sprintf("s-%d", i), Name: fmt.Sprintf("user%d", i)}
		if err := st.RecordJoin(ctx, p); err != nil {
			t.Fatalf("RecordJoin: %v", err)
		}
	}

	pageSize, offset := int64(2), int64(1)
	page, err := st.ListPresence(ctx, model.PresenceFilters{PageSize: &pageSize, Offset: &offset})
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	got := make([]string, 0, len(page))
	for _, p := range page {
		got = append(got, p.Name)
	}
	if diff := cmp.Diff([]string{"user3", "user2"}, got); diff != "" {
		t.Fatalf("ListPresence page mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	st, err := datastore.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.RecordJoin(context.Background(), &model.Presence{SessionID: "s-1", Name: "alice"}); err != nil {
		t.Fatalf("RecordJoin: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = datastore.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = st.Close() }()

	rows, err := st.ListPresence(context.Background(), model.PresenceFilters{})
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ListPresence after reopen: expected 1 row, got %d", len(rows))
	}
}
