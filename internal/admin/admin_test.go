package admin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clipforge/internal/admin"
	"clipforge/internal/compose"
	"clipforge/internal/db"
	"clipforge/internal/domain"
	"clipforge/internal/faults"
	"clipforge/internal/migrate"
	"clipforge/internal/repo"
)

func newAdmin(t *testing.T) (admin.Admin, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	adm := admin.New(conn)
	adm.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	adm.Events.Now = adm.Now
	return adm, context.Background()
}

func createProfile(t *testing.T, adm admin.Admin, ctx context.Context) domain.Profile {
	t.Helper()
	p, err := adm.CreateProfile(ctx, admin.ProfileCreateOptions{
		Name:     "daily trivia",
		Schedule: "0 12 * * *",
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return p
}

func TestCreateProfileValidatesScheduleAndAspect(t *testing.T) {
	adm, ctx := newAdmin(t)

	if _, err := adm.CreateProfile(ctx, admin.ProfileCreateOptions{Name: "x", Schedule: "not a cron"}); err == nil {
		t.Fatalf("malformed schedule must be rejected")
	} else if faults.ClassOf(err) != faults.Configuration {
		t.Fatalf("schedule error should be a configuration fault, got %v", faults.ClassOf(err))
	}

	if _, err := adm.CreateProfile(ctx, admin.ProfileCreateOptions{
		Name: "x", Schedule: "0 12 * * *", AspectRatio: "wide",
	}); err == nil {
		t.Fatalf("malformed aspect ratio must be rejected")
	}

	p := createProfile(t, adm, ctx)
	if p.AspectRatio != "9:16" {
		t.Fatalf("aspect ratio should default to portrait, got %q", p.AspectRatio)
	}
	if p.ID == "" || p.CreatedAt == "" {
		t.Fatalf("profile should get an id and creation time: %+v", p)
	}
}

func TestAddStageEnforcesChainShape(t *testing.T) {
	adm, ctx := newAdmin(t)
	p := createProfile(t, adm, ctx)

	head, err := adm.AddStage(ctx, p.ID, "base", domain.FirstStage)
	if err != nil {
		t.Fatalf("add head stage: %v", err)
	}
	if !head.First() {
		t.Fatalf("head stage should be marked first")
	}

	if _, err := adm.AddStage(ctx, p.ID, "rival head", domain.FirstStage); err == nil {
		t.Fatalf("a second first stage must be rejected")
	}

	mid, err := adm.AddStage(ctx, p.ID, "overlay", head.ID)
	if err != nil {
		t.Fatalf("add successor: %v", err)
	}
	if mid.LastStage == nil || *mid.LastStage != head.ID {
		t.Fatalf("successor should link to its predecessor, got %+v", mid.LastStage)
	}

	if _, err := adm.AddStage(ctx, p.ID, "fork", head.ID); err == nil {
		t.Fatalf("a second successor for one predecessor must be rejected")
	}
	if _, err := adm.AddStage(ctx, p.ID, "orphan link", "no-such-stage"); err == nil {
		t.Fatalf("unknown predecessor must be rejected")
	}

	// disconnected stages are allowed; they are simply skipped at compose time
	if _, err := adm.AddStage(ctx, p.ID, "parked", ""); err != nil {
		t.Fatalf("disconnected stage: %v", err)
	}
}

func TestAddLayerAssignsIncreasingOrder(t *testing.T) {
	adm, ctx := newAdmin(t)
	p := createProfile(t, adm, ctx)
	stage, err := adm.AddStage(ctx, p.ID, "base", domain.FirstStage)
	if err != nil {
		t.Fatalf("add stage: %v", err)
	}

	first, err := adm.AddLayer(ctx, stage.ID, compose.TagBackground, compose.BackgroundBody{Loop: true})
	if err != nil {
		t.Fatalf("add layer: %v", err)
	}
	second, err := adm.AddLayer(ctx, stage.ID, compose.TagCard, compose.CardBody{Section: "question"})
	if err != nil {
		t.Fatalf("add layer: %v", err)
	}
	if first.Order != 0 || second.Order != 1 {
		t.Fatalf("layer order should increase, got %d then %d", first.Order, second.Order)
	}

	r := repo.Repo{DB: adm.DB}
	layers, err := r.ListLayers(ctx, stage.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 2 {
		t.Fatalf("want 2 layers, got %d", len(layers))
	}
	tag, _, err := compose.DecodeHeader(layers[0].Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if tag != compose.TagBackground {
		t.Fatalf("payload should carry the layer's type tag, got %v", tag)
	}

	if _, err := adm.AddLayer(ctx, "no-such-stage", compose.TagVoice, compose.VoiceBody{}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown stage, got %v", err)
	}
}

func TestAddPlatformRejectsUnknownKind(t *testing.T) {
	adm, ctx := newAdmin(t)
	p := createProfile(t, adm, ctx)

	if _, err := adm.AddPlatform(ctx, p.ID, "myspace", nil, nil); err == nil {
		t.Fatalf("unknown platform kind must be rejected")
	} else if faults.ClassOf(err) != faults.Configuration {
		t.Fatalf("platform error should be a configuration fault, got %v", faults.ClassOf(err))
	}

	if _, err := adm.AddPlatform(ctx, p.ID, domain.PlatformLocal, nil, nil); err != nil {
		t.Fatalf("add local platform: %v", err)
	}
}

func TestResumeClearsNextRun(t *testing.T) {
	adm, ctx := newAdmin(t)
	p := createProfile(t, adm, ctx)
	r := repo.Repo{DB: adm.DB}

	tx, err := adm.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetNextRun(ctx, tx, p.ID, "2026-03-01T12:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := adm.SetPaused(ctx, p.ID, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := adm.SetPaused(ctx, p.ID, false); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got, err := r.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Paused {
		t.Fatalf("profile should be resumed")
	}
	if got.NextRun != "" {
		t.Fatalf("resume should clear next_run, got %q", got.NextRun)
	}
}
