package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/cron"
	"clipforge/internal/domain"
	"clipforge/internal/events"
	"clipforge/internal/repo"
)

// Source records why a run ticket was issued.
const (
	SourceOverride = "override"
	SourceSchedule = "schedule"
)

// Ticket is one claimed run, ready for a worker to drive.
type Ticket struct {
	Run     domain.Run
	Profile domain.Profile
	Source  string
}

// Selector decides which profiles are due and claims them. The claim and the
// run-existence check commit as one transaction against the shared store;
// that transaction is the only serialization point between pollers, so two
// racing on the same profile cannot both succeed.
type Selector struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func NewSelector(db *sql.DB) *Selector {
	return &Selector{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

// SelectDue claims every due profile and returns a ticket per claim. An
// override due now takes precedence over a simultaneous cron occurrence: it
// represents explicit intent, and the profile is skipped for cron this pass.
// Per-profile persistence failures are collected into the returned error and
// the profile is simply retried next cycle; tickets already claimed are
// returned either way.
func (s *Selector) SelectDue(ctx context.Context) ([]Ticket, error) {
	now := s.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	var tickets []Ticket
	var errs []error
	claimed := map[string]bool{}

	overrides, err := s.Repo.DueOverrides(ctx, nowStr)
	if err != nil {
		return nil, fmt.Errorf("list due overrides: %w", err)
	}
	for _, o := range overrides {
		if claimed[o.ProfileID] {
			continue
		}
		t, ok, err := s.claimOverride(ctx, o, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", o.ProfileID, err))
			continue
		}
		if ok {
			claimed[o.ProfileID] = true
			tickets = append(tickets, t)
		}
	}

	profiles, err := s.Repo.ListActiveProfiles(ctx)
	if err != nil {
		return tickets, errors.Join(append(errs, fmt.Errorf("list profiles: %w", err))...)
	}
	for _, p := range profiles {
		if claimed[p.ID] {
			continue
		}
		t, ok, err := s.claimScheduled(ctx, p, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.ID, err))
			continue
		}
		if ok {
			tickets = append(tickets, t)
		}
	}
	return tickets, errors.Join(errs...)
}

// claimOverride marks the override claimed and creates the run in one
// transaction. If the profile already has a non-terminal run the whole
// transaction rolls back: the override stays unclaimed for a later cycle and
// the one-non-terminal-run invariant stays authoritative. A cron occurrence
// the override supersedes is consumed here too: a next_run at or before the
// override's run time is advanced past now, so it is never claimed separately
// once the override's run finishes.
func (s *Selector) claimOverride(ctx context.Context, o domain.Override, now time.Time) (Ticket, bool, error) {
	profile, err := s.Repo.GetProfile(ctx, o.ProfileID)
	if err != nil {
		return Ticket{}, false, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ticket{}, false, err
	}
	defer tx.Rollback()

	got, err := s.Repo.ClaimOverride(ctx, tx, o.ID)
	if err != nil {
		return Ticket{}, false, err
	}
	if !got {
		// another poller won the race
		return Ticket{}, false, nil
	}
	run, created, err := s.insertRun(ctx, tx, o.ProfileID, now.Format(time.RFC3339))
	if err != nil {
		return Ticket{}, false, err
	}
	if !created {
		return Ticket{}, false, nil
	}
	if profile.NextRun != "" && profile.NextRun <= o.RunsAt {
		next, err := cron.Next(profile.Schedule, now)
		if err != nil {
			return Ticket{}, false, err
		}
		if err := s.Repo.SetNextRun(ctx, tx, profile.ID, next.Format(time.RFC3339)); err != nil {
			return Ticket{}, false, err
		}
	}
	if err := s.Events.Append(ctx, tx, "override.claimed", o.ProfileID, "override", o.ID, events.EventPayload{
		"runs_at": o.RunsAt,
		"run_id":  run.ID,
	}); err != nil {
		return Ticket{}, false, err
	}
	if err := s.appendRunCreated(ctx, tx, run, SourceOverride); err != nil {
		return Ticket{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Ticket{}, false, err
	}
	return Ticket{Run: run, Profile: profile, Source: SourceOverride}, true, nil
}

// claimScheduled creates a run for a cron-due profile and writes back the
// next occurrence. A profile without a computed next_run gets one seeded and
// waits for a later pass.
func (s *Selector) claimScheduled(ctx context.Context, p domain.Profile, now time.Time) (Ticket, bool, error) {
	next, err := cron.Next(p.Schedule, now)
	if err != nil {
		return Ticket{}, false, err
	}
	nextStr := next.Format(time.RFC3339)

	if p.NextRun == "" {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return Ticket{}, false, err
		}
		defer tx.Rollback()
		if err := s.Repo.SetNextRun(ctx, tx, p.ID, nextStr); err != nil {
			return Ticket{}, false, err
		}
		return Ticket{}, false, tx.Commit()
	}

	due, err := time.Parse(time.RFC3339, p.NextRun)
	if err != nil {
		return Ticket{}, false, fmt.Errorf("parse next_run %q: %w", p.NextRun, err)
	}
	if due.After(now) {
		return Ticket{}, false, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ticket{}, false, err
	}
	defer tx.Rollback()

	run, created, err := s.insertRun(ctx, tx, p.ID, now.Format(time.RFC3339))
	if err != nil {
		return Ticket{}, false, err
	}
	if !created {
		// a non-terminal run already holds the profile
		return Ticket{}, false, nil
	}
	if err := s.Repo.SetNextRun(ctx, tx, p.ID, nextStr); err != nil {
		return Ticket{}, false, err
	}
	if err := s.appendRunCreated(ctx, tx, run, SourceSchedule); err != nil {
		return Ticket{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Ticket{}, false, err
	}
	return Ticket{Run: run, Profile: p, Source: SourceSchedule}, true, nil
}

func (s *Selector) insertRun(ctx context.Context, tx *sql.Tx, profileID, nowStr string) (domain.Run, bool, error) {
	run := domain.Run{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		State:     domain.StateGeneratingQuestion,
		StartedAt: nowStr,
	}
	created, err := s.Repo.CreateRunIfIdle(ctx, tx, run)
	if err != nil {
		return run, false, err
	}
	return run, created, nil
}

func (s *Selector) appendRunCreated(ctx context.Context, tx *sql.Tx, run domain.Run, source string) error {
	return s.Events.Append(ctx, tx, "run.created", run.ProfileID, "run", run.ID, events.EventPayload{
		"source": source,
		"state":  string(run.State),
	})
}
