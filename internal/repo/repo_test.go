package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"sourceline/internal/db"
	"sourceline/internal/domain"
	"sourceline/internal/migrate"
	"sourceline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func seedRFQ(t *testing.T, r repo.Repo, ctx context.Context, id string) {
	t.Helper()
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertRFQ(ctx, tx, domain.RFQ{
			ID:        id,
			Title:     "Steel brackets Q2",
			Items:     []domain.LineItem{{ItemRef: "bracket-10", Quantity: 500, Unit: "pcs"}},
			Status:    domain.RFQOpen,
			Deadline:  "2026-03-01T13:00:00Z",
			CreatedBy: "buyer-1",
			CreatedAt: "2026-03-01T12:00:00Z",
			UpdatedAt: "2026-03-01T12:00:00Z",
		})
	})
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// The award transition is conditional on the RFQ still being open; it must
// refuse a second award and an award after close without erroring.
func TestAwardRFQAppliesOnlyWhileOpen(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedRFQ(t, r, ctx, "r1")
	seedRFQ(t, r, ctx, "r2")

	now := "2026-03-01T12:30:00Z"
	inTx(t, r, func(tx *sql.Tx) error {
		applied, err := r.AwardRFQ(ctx, tx, "r1", "b1", now)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatalf("first award did not apply")
		}
		return nil
	})
	inTx(t, r, func(tx *sql.Tx) error {
		applied, err := r.AwardRFQ(ctx, tx, "r1", "b2", now)
		if err != nil {
			return err
		}
		if applied {
			t.Fatalf("second award applied over an awarded rfq")
		}
		return nil
	})

	inTx(t, r, func(tx *sql.Tx) error {
		applied, err := r.CloseRFQ(ctx, tx, "r2", now)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatalf("close did not apply")
		}
		return nil
	})
	inTx(t, r, func(tx *sql.Tx) error {
		applied, err := r.AwardRFQ(ctx, tx, "r2", "b3", now)
		if err != nil {
			return err
		}
		if applied {
			t.Fatalf("award applied over a closed rfq")
		}
		return nil
	})

	q, err := r.GetRFQ(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if q.Status != domain.RFQAwarded || q.AwardedBidID == nil || *q.AwardedBidID != "b1" {
		t.Fatalf("r1 = %s awarded_bid=%v", q.Status, q.AwardedBidID)
	}
	q, err = r.GetRFQ(ctx, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if q.Status != domain.RFQClosed || q.AwardedBidID != nil {
		t.Fatalf("r2 = %s awarded_bid=%v", q.Status, q.AwardedBidID)
	}
}
