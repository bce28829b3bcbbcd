package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/store"
	"github.com/roomly/connect/internal/store/storetest"
)

func makeSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "connect.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	return st
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, makeSQLiteStore)
}

// A dead backing store must surface as retryable, not as a generic
// internal error.
func TestSQLiteStore_ClosedHandleIsUnavailable(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "connect.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	st := NewWithDB(db)
	if _, _, err := st.Conversations().GetOrCreate(ctx, "ana", "luis", nil); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := st.Conversations().ListByUser(ctx, "ana"); !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("ListByUser on closed handle: want ErrUnavailable, got %v", err)
	}
	if _, err := st.Messages().List(ctx, "c1"); !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("List on closed handle: want ErrUnavailable, got %v", err)
	}
	if err := st.Ping(ctx); !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("Ping on closed handle: want ErrUnavailable, got %v", err)
	}
}
