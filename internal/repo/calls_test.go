package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"callboard/internal/db"
	"callboard/internal/domain"
	"callboard/internal/migrate"
	"callboard/internal/repo"
)

const testTS = "2024-01-01T00:00:00Z"

func newTestRepo(t *testing.T) (*sql.DB, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn, repo.Repo{DB: conn}
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.Begin()
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

func TestDeleteOpenCallsReturnsDeletedIDs(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()

	inTx(t, conn, func(tx *sql.Tx) error {
		if err := r.InsertPerson(ctx, tx, domain.Person{ID: 1, DisplayName: "Anna", Role: domain.RoleJudge, Discipline: "welding", CreatedAt: testTS}); err != nil {
			return err
		}
		return r.InsertPerson(ctx, tx, domain.Person{ID: 2, DisplayName: "Boris", Role: domain.RoleExpert, CreatedAt: testTS})
	})

	var taken, openExpert, openHead int64
	inTx(t, conn, func(tx *sql.Tx) error {
		var err error
		if taken, err = r.InsertCall(ctx, tx, domain.KindExpert, 1, "welding", testTS); err != nil {
			return err
		}
		if openExpert, err = r.InsertCall(ctx, tx, domain.KindExpert, 1, "welding", testTS); err != nil {
			return err
		}
		if openHead, err = r.InsertCall(ctx, tx, domain.KindHeadJudge, 1, "", testTS); err != nil {
			return err
		}
		ok, err := r.AssignCall(ctx, tx, taken, domain.KindExpert, 2, testTS)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("assign should win on an open call")
		}
		return nil
	})

	var ids []int64
	inTx(t, conn, func(tx *sql.Tx) error {
		var err error
		ids, err = r.DeleteOpenCallsByRequester(ctx, tx, 1, nil)
		return err
	})

	want := map[int64]bool{openExpert: true, openHead: true}
	if len(ids) != 2 {
		t.Fatalf("expected the two open calls deleted, got %v", ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected id %d in deleted set %v", id, ids)
		}
	}
	if _, err := r.GetCall(ctx, taken); err != nil {
		t.Fatalf("assigned call must survive cancellation: %v", err)
	}
	if _, err := r.GetCall(ctx, openExpert); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted call still readable: %v", err)
	}
}
