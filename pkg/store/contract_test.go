package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"storeops/pkg/domain"
)

// testDatabaseEnv points the GORM run at a scratch Postgres database.
const testDatabaseEnv = "STOREOPS_TEST_DATABASE_URL"

func TestMemoryStorePendingContract(t *testing.T) {
	runPendingContract(t, NewMemoryStore())
}

func TestGormStorePendingContract(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv(testDatabaseEnv))
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	s, err := NewGormStore(dsn)
	if err != nil {
		t.Fatalf("open gorm store: %v", err)
	}
	runPendingContract(t, s)
}

func runPendingContract(t *testing.T, s PendingActions) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	// ids are unique per run so a shared database can be reused
	run := uuid.NewString()[:8]

	t.Run("create is idempotent per source message", func(t *testing.T) {
		ctx := context.Background()
		sender := "+1555" + run + "a"
		in := domain.PendingAction{
			SenderID:        sender,
			StoreID:         "S001",
			Category:        domain.CategoryPaidOut,
			Fields:          &domain.PaidOutFields{Amount: 40},
			SourceMessageID: "src-" + run + "-a",
			CreatedAt:       base,
		}
		first, created, err := s.CreatePendingAction(ctx, in)
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}
		again, created, err := s.CreatePendingAction(ctx, in)
		if err != nil || created {
			t.Fatalf("second create: created=%v err=%v", created, err)
		}
		if again.ID != first.ID {
			t.Fatalf("expected the same action, got %s and %s", first.ID, again.ID)
		}
	})

	t.Run("pointer follows newest and expiry is lazy", func(t *testing.T) {
		ctx := context.Background()
		sender := "+1555" + run + "b"
		older, _, err := s.CreatePendingAction(ctx, domain.PendingAction{
			SenderID: sender, StoreID: "S001", Category: domain.CategoryPaidOut,
			Fields: &domain.PaidOutFields{Amount: 1}, SourceMessageID: "src-" + run + "-b1", CreatedAt: base,
		})
		if err != nil {
			t.Fatalf("create older: %v", err)
		}
		newer, _, err := s.CreatePendingAction(ctx, domain.PendingAction{
			SenderID: sender, StoreID: "S001", Category: domain.CategoryPaidOut,
			Fields: &domain.PaidOutFields{Amount: 2}, SourceMessageID: "src-" + run + "-b2", CreatedAt: base.Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("create newer: %v", err)
		}
		latest, found, err := s.LatestPendingAction(ctx, sender, base.Add(time.Hour))
		if err != nil || !found || latest.ID != newer.ID {
			t.Fatalf("latest = %+v found=%v err=%v, want %s (not %s)", latest, found, err, newer.ID, older.ID)
		}
		if _, found, _ := s.LatestPendingAction(ctx, sender, base.Add(domain.PendingTTL+2*time.Minute)); found {
			t.Fatalf("expired action must not be returned")
		}
		stored, _, err := s.GetPendingAction(ctx, newer.ID)
		if err != nil || stored.Status != domain.PendingStatusPending {
			t.Fatalf("lazy expiry must not rewrite the row: %+v %v", stored, err)
		}
	})

	t.Run("degraded fields come back typed", func(t *testing.T) {
		ctx := context.Background()
		action, _, err := s.CreatePendingAction(ctx, domain.PendingAction{
			SenderID: "+1555" + run + "c", StoreID: "S001", Category: domain.CategoryOrderRequest,
			Fields: domain.RawFields{}, SourceMessageID: "src-" + run + "-c", CreatedAt: base,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		got, _, err := s.GetPendingAction(ctx, action.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if _, ok := got.Fields.(*domain.OrderRequestFields); !ok {
			t.Fatalf("expected order fields, got %#v", got.Fields)
		}
		updated, err := s.UpdatePendingFields(ctx, action.ID, domain.RawFields{"note": "x"})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if _, ok := updated.Fields.(*domain.OrderRequestFields); !ok {
			t.Fatalf("expected order fields after update, got %#v", updated.Fields)
		}
	})

	t.Run("terminal actions reject edits", func(t *testing.T) {
		ctx := context.Background()
		action, _, err := s.CreatePendingAction(ctx, domain.PendingAction{
			SenderID: "+1555" + run + "d", StoreID: "S001", Category: domain.CategoryPaidOut,
			Fields: &domain.PaidOutFields{Amount: 5}, SourceMessageID: "src-" + run + "-d", CreatedAt: base,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.TransitionPendingAction(ctx, action.ID, domain.PendingStatusCancelled); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if _, err := s.UpdatePendingFields(ctx, action.ID, &domain.PaidOutFields{Amount: 6}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}
