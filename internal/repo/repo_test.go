package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"clipforge/internal/db"
	"clipforge/internal/domain"
	"clipforge/internal/migrate"
	"clipforge/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func seedProfile(t *testing.T, r repo.Repo, ctx context.Context, id string) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	p := domain.Profile{
		ID:        id,
		Name:      "series " + id,
		Schedule:  "0 12 * * *",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	if err := r.InsertProfile(ctx, tx, p); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimOverrideFlipsExactlyOnce(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProfile(t, r, ctx, "prof-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertOverride(ctx, tx, domain.Override{
			ID:        "ov-1",
			ProfileID: "prof-1",
			RunsAt:    "2026-03-01T08:00:00Z",
			CreatedAt: "2026-03-01T00:00:00Z",
		})
	})

	var first, second bool
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		first, err = r.ClaimOverride(ctx, tx, "ov-1")
		return err
	})
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		second, err = r.ClaimOverride(ctx, tx, "ov-1")
		return err
	})
	if !first {
		t.Fatalf("first claim should win")
	}
	if second {
		t.Fatalf("second claim should lose")
	}

	// claimed rows are kept for audit
	items, err := r.ListOverrides(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || !items[0].Claimed {
		t.Fatalf("override should remain, claimed: %+v", items)
	}
}

func TestClaimRollbackLeavesOverrideUnclaimed(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProfile(t, r, ctx, "prof-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertOverride(ctx, tx, domain.Override{
			ID: "ov-1", ProfileID: "prof-1", RunsAt: "2026-03-01T08:00:00Z", CreatedAt: "2026-03-01T00:00:00Z",
		})
	})

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.ClaimOverride(ctx, tx, "ov-1")
	if err != nil || !got {
		t.Fatalf("claim inside tx: got=%v err=%v", got, err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	items, err := r.ListOverrides(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Claimed {
		t.Fatalf("rolled-back claim must stay unclaimed")
	}
}

func TestCreateRunIfIdleEnforcesOneNonTerminalRun(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProfile(t, r, ctx, "prof-1")
	now := "2026-03-01T12:00:00Z"

	var created bool
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		created, err = r.CreateRunIfIdle(ctx, tx, domain.Run{
			ID: "run-1", ProfileID: "prof-1", State: domain.StateGeneratingQuestion, StartedAt: now,
		})
		return err
	})
	if !created {
		t.Fatalf("first run should be created")
	}

	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		created, err = r.CreateRunIfIdle(ctx, tx, domain.Run{
			ID: "run-2", ProfileID: "prof-1", State: domain.StateGeneratingQuestion, StartedAt: now,
		})
		return err
	})
	if created {
		t.Fatalf("second run must be refused while run-1 is non-terminal")
	}

	// finishing the run frees the profile
	run, err := r.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	run.State = domain.StateDone
	fin := now
	run.FinishedAt = &fin
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateRun(ctx, tx, run)
	})

	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		created, err = r.CreateRunIfIdle(ctx, tx, domain.Run{
			ID: "run-3", ProfileID: "prof-1", State: domain.StateGeneratingQuestion, StartedAt: now,
		})
		return err
	})
	if !created {
		t.Fatalf("run should be created once the previous one is terminal")
	}
}

func TestDueOverridesExcludesPausedProfiles(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProfile(t, r, ctx, "prof-1")
	seedProfile(t, r, ctx, "prof-2")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.InsertOverride(ctx, tx, domain.Override{
			ID: "ov-1", ProfileID: "prof-1", RunsAt: "2026-03-01T08:00:00Z", CreatedAt: "2026-03-01T00:00:00Z",
		}); err != nil {
			return err
		}
		if err := r.InsertOverride(ctx, tx, domain.Override{
			ID: "ov-2", ProfileID: "prof-2", RunsAt: "2026-03-01T08:00:00Z", CreatedAt: "2026-03-01T00:00:00Z",
		}); err != nil {
			return err
		}
		return r.SetProfilePaused(ctx, tx, "prof-2", true)
	})

	due, err := r.DueOverrides(ctx, "2026-03-01T09:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "ov-1" {
		t.Fatalf("want only the unpaused profile's override, got %+v", due)
	}
}

func TestRunProcessingRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProfile(t, r, ctx, "prof-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		_, err := r.CreateRunIfIdle(ctx, tx, domain.Run{
			ID: "run-1", ProfileID: "prof-1", State: domain.StateComposingVideo, StartedAt: "2026-03-01T12:00:00Z",
		})
		return err
	})

	run, err := r.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Processing) != 0 {
		t.Fatalf("fresh run should have an empty processing set")
	}
	run.Processing = []string{"stage-a.layer-1", "stage-a.layer-2"}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateRun(ctx, tx, run)
	})

	got, err := r.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Processing) != 2 || got.Processing[0] != "stage-a.layer-1" {
		t.Fatalf("processing set lost in round trip: %+v", got.Processing)
	}
}
