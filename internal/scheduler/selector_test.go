package scheduler_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"clipforge/internal/db"
	"clipforge/internal/domain"
	"clipforge/internal/migrate"
	"clipforge/internal/repo"
	"clipforge/internal/scheduler"
)

type selEnv struct {
	conn *sql.DB
	repo repo.Repo
	sel  *scheduler.Selector
	now  time.Time
}

func newSelEnv(t *testing.T) *selEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &selEnv{
		conn: conn,
		repo: repo.Repo{DB: conn},
		sel:  scheduler.NewSelector(conn),
		now:  time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	env.sel.Now = func() time.Time { return env.now }
	env.sel.Events.Now = env.sel.Now
	return env
}

func (e *selEnv) seedProfile(t *testing.T, id, schedule string, paused bool) {
	t.Helper()
	tx, err := e.conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	p := domain.Profile{
		ID:        id,
		Name:      "series " + id,
		Schedule:  schedule,
		Paused:    paused,
		CreatedAt: "2026-03-01T00:00:00Z",
	}
	if err := e.repo.InsertProfile(context.Background(), tx, p); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (e *selEnv) seedOverride(t *testing.T, id, profileID string, runsAt time.Time) {
	t.Helper()
	tx, err := e.conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	o := domain.Override{
		ID:        id,
		ProfileID: profileID,
		RunsAt:    runsAt.Format(time.RFC3339),
		CreatedAt: "2026-03-01T00:00:00Z",
	}
	if err := e.repo.InsertOverride(context.Background(), tx, o); err != nil {
		t.Fatalf("insert override: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestFirstPassSeedsNextRunWithoutTicket(t *testing.T) {
	env := newSelEnv(t)
	env.seedProfile(t, "prof-1", "0 12 * * *", false)
	ctx := context.Background()

	tickets, err := env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("seeding pass must not issue tickets, got %d", len(tickets))
	}
	p, err := env.repo.GetProfile(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.NextRun != "2026-03-01T12:00:00Z" {
		t.Fatalf("next_run not seeded, got %q", p.NextRun)
	}
}

func TestScheduledRunCreatedWhenDue(t *testing.T) {
	env := newSelEnv(t)
	env.seedProfile(t, "prof-1", "0 12 * * *", false)
	ctx := context.Background()

	if _, err := env.sel.SelectDue(ctx); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	env.now = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	tickets, err := env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("want one ticket, got %d", len(tickets))
	}
	tk := tickets[0]
	if tk.Source != scheduler.SourceSchedule {
		t.Fatalf("want schedule source, got %q", tk.Source)
	}
	if tk.Run.State != domain.StateGeneratingQuestion {
		t.Fatalf("run should start at the first state, got %q", tk.Run.State)
	}

	p, err := env.repo.GetProfile(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.NextRun != "2026-03-02T12:00:00Z" {
		t.Fatalf("next_run not advanced, got %q", p.NextRun)
	}

	// the non-terminal run blocks a second claim
	tickets, err = env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select again: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("profile with a run in flight must not be claimed again")
	}
}

func TestOverrideWinsOverSimultaneousSchedule(t *testing.T) {
	env := newSelEnv(t)
	env.seedProfile(t, "prof-1", "0 12 * * *", false)
	ctx := context.Background()

	if _, err := env.sel.SelectDue(ctx); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	env.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.seedOverride(t, "ov-1", "prof-1", env.now)

	tickets, err := env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("want exactly one ticket, got %d", len(tickets))
	}
	if tickets[0].Source != scheduler.SourceOverride {
		t.Fatalf("override must take precedence, got source %q", tickets[0].Source)
	}

	overrides, err := env.repo.ListOverrides(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if !overrides[0].Claimed {
		t.Fatalf("override should be claimed")
	}
}

func TestOverrideConsumesSupersededCronOccurrence(t *testing.T) {
	env := newSelEnv(t)
	env.seedProfile(t, "prof-1", "0 12 * * *", false)
	ctx := context.Background()

	if _, err := env.sel.SelectDue(ctx); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	env.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.seedOverride(t, "ov-1", "prof-1", env.now)

	tickets, err := env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Source != scheduler.SourceOverride {
		t.Fatalf("want one override ticket, got %+v", tickets)
	}
	p, err := env.repo.GetProfile(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.NextRun != "2026-03-02T12:00:00Z" {
		t.Fatalf("claiming the override must consume the cron occurrence it supersedes, next_run %q", p.NextRun)
	}

	// finish the override's run; the 12:00 occurrence must not come back
	run := tickets[0].Run
	run.State = domain.StateDone
	fin := env.now.Format(time.RFC3339)
	run.FinishedAt = &fin
	tx, err := env.conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.repo.UpdateRun(ctx, tx, run); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	env.now = time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	tickets, err = env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select after finish: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("superseded occurrence claimed again: %+v", tickets)
	}
}

func TestPausedProfileIsSkipped(t *testing.T) {
	env := newSelEnv(t)
	env.seedProfile(t, "prof-1", "0 12 * * *", true)
	ctx := context.Background()
	env.now = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	env.seedOverride(t, "ov-1", "prof-1", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	tickets, err := env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("paused profile must yield no tickets, got %d", len(tickets))
	}
	overrides, err := env.repo.ListOverrides(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if overrides[0].Claimed {
		t.Fatalf("override on a paused profile must stay unclaimed")
	}
}

func TestOverrideLeftUnclaimedWhileRunInFlight(t *testing.T) {
	env := newSelEnv(t)
	env.seedProfile(t, "prof-1", "0 12 * * *", false)
	ctx := context.Background()

	tx, err := env.conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := env.repo.CreateRunIfIdle(ctx, tx, domain.Run{
		ID: "run-0", ProfileID: "prof-1", State: domain.StateRenderingVoice, StartedAt: "2026-03-01T10:00:00Z",
	})
	if err != nil || !created {
		t.Fatalf("seed run: created=%v err=%v", created, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	env.seedOverride(t, "ov-1", "prof-1", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))

	tickets, err := env.sel.SelectDue(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("no ticket while a run is in flight, got %d", len(tickets))
	}
	overrides, err := env.repo.ListOverrides(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if overrides[0].Claimed {
		t.Fatalf("override must stay unclaimed until the profile is free")
	}
}
