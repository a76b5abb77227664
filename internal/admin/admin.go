// Package admin holds the configuration-side operations: creating and pausing
// profiles, wiring stages and layers, registering platforms, and scheduling
// overrides. Run execution lives in pipeline; due-run selection in scheduler.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/compose"
	"clipforge/internal/cron"
	"clipforge/internal/domain"
	"clipforge/internal/events"
	"clipforge/internal/faults"
	"clipforge/internal/repo"
)

type Admin struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Admin {
	return Admin{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (a Admin) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// ProfileCreateOptions are parameters for creating a profile.
type ProfileCreateOptions struct {
	ID             string
	Name           string
	Schedule       string
	QuestionPrompt string
	AnswerPrompt   string
	BackgroundGlob string
	VoiceName      string
	FontName       string
	AspectRatio    string
}

func (a Admin) CreateProfile(ctx context.Context, opts ProfileCreateOptions) (domain.Profile, error) {
	if opts.Name == "" {
		return domain.Profile{}, errors.New("name is required")
	}
	if err := cron.Validate(opts.Schedule); err != nil {
		return domain.Profile{}, err
	}
	if opts.AspectRatio == "" {
		opts.AspectRatio = "9:16"
	}
	if _, _, err := compose.ParseAspect(opts.AspectRatio); err != nil {
		return domain.Profile{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Profile{
		ID:             id,
		Name:           opts.Name,
		Schedule:       opts.Schedule,
		QuestionPrompt: opts.QuestionPrompt,
		AnswerPrompt:   opts.AnswerPrompt,
		BackgroundGlob: opts.BackgroundGlob,
		VoiceName:      opts.VoiceName,
		FontName:       opts.FontName,
		AspectRatio:    opts.AspectRatio,
		CreatedAt:      a.now().UTC().Format(time.RFC3339),
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, err
	}
	if err := a.Events.Append(ctx, tx, "profile.created", p.ID, "profile", p.ID, events.EventPayload{"name": p.Name, "schedule": p.Schedule}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// SetPaused pauses or resumes a profile. Resuming clears the stored next
// fire time so the scheduler reseeds it from now instead of back-filling
// missed windows.
func (a Admin) SetPaused(ctx context.Context, profileID string, paused bool) error {
	if _, err := a.Repo.GetProfile(ctx, profileID); err != nil {
		return err
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := a.Repo.SetProfilePaused(ctx, tx, profileID, paused); err != nil {
		return err
	}
	evt := "profile.paused"
	if !paused {
		evt = "profile.resumed"
		if err := a.Repo.SetNextRun(ctx, tx, profileID, ""); err != nil {
			return err
		}
	}
	if err := a.Events.Append(ctx, tx, evt, profileID, "profile", profileID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// AddStage appends a stage to a profile's composition. lastStage is the
// predecessor stage id, domain.FirstStage for the head of the chain, or
// empty to leave the stage disconnected.
func (a Admin) AddStage(ctx context.Context, profileID, name, lastStage string) (domain.Stage, error) {
	if name == "" {
		return domain.Stage{}, errors.New("name is required")
	}
	if _, err := a.Repo.GetProfile(ctx, profileID); err != nil {
		return domain.Stage{}, err
	}
	existing, err := a.Repo.ListStages(ctx, profileID)
	if err != nil {
		return domain.Stage{}, err
	}
	var prev *string
	switch lastStage {
	case "":
	case domain.FirstStage:
		for _, s := range existing {
			if s.First() {
				return domain.Stage{}, fmt.Errorf("profile already has a first stage (%s)", s.Name)
			}
		}
		prev = ptr(domain.FirstStage)
	default:
		found := false
		for _, s := range existing {
			if s.ID == lastStage {
				found = true
			}
			if s.LastStage != nil && *s.LastStage == lastStage {
				return domain.Stage{}, fmt.Errorf("stage %s already has a successor", lastStage)
			}
		}
		if !found {
			return domain.Stage{}, fmt.Errorf("predecessor stage %s not found", lastStage)
		}
		prev = ptr(lastStage)
	}
	s := domain.Stage{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		Name:      name,
		LastStage: prev,
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertStage(ctx, tx, s); err != nil {
		return domain.Stage{}, err
	}
	if err := a.Events.Append(ctx, tx, "stage.created", profileID, "stage", s.ID, events.EventPayload{"name": s.Name}); err != nil {
		return domain.Stage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stage{}, err
	}
	return s, nil
}

// AddLayer appends a layer to a stage. The body is encoded behind the type
// tag so only the matching handler ever interprets it.
func (a Admin) AddLayer(ctx context.Context, stageID string, tag compose.Tag, body any) (domain.Layer, error) {
	stage, err := a.Repo.GetStage(ctx, stageID)
	if err != nil {
		return domain.Layer{}, err
	}
	payload, err := compose.EncodePayload(tag, body)
	if err != nil {
		return domain.Layer{}, err
	}
	layers, err := a.Repo.ListLayers(ctx, stageID)
	if err != nil {
		return domain.Layer{}, err
	}
	ord := 0
	for _, l := range layers {
		if l.Order >= ord {
			ord = l.Order + 1
		}
	}
	l := domain.Layer{
		ID:      uuid.New().String(),
		StageID: stageID,
		Order:   ord,
		Payload: payload,
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Layer{}, err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertLayer(ctx, tx, l); err != nil {
		return domain.Layer{}, err
	}
	if err := a.Events.Append(ctx, tx, "layer.created", stage.ProfileID, "layer", l.ID, events.EventPayload{"tag": tag.String(), "order": l.Order}); err != nil {
		return domain.Layer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Layer{}, err
	}
	return l, nil
}

// AddPlatform registers a publish destination for a profile.
func (a Admin) AddPlatform(ctx context.Context, profileID, platform string, oauthRefresh, oauthToken []byte) (domain.UploadPlatform, error) {
	if platform != domain.PlatformLocal && platform != domain.PlatformYoutube {
		return domain.UploadPlatform{}, faults.Configf("unsupported platform %q", platform)
	}
	if _, err := a.Repo.GetProfile(ctx, profileID); err != nil {
		return domain.UploadPlatform{}, err
	}
	p := domain.UploadPlatform{
		ID:           uuid.New().String(),
		ProfileID:    profileID,
		Platform:     platform,
		OAuthRefresh: oauthRefresh,
		OAuthToken:   oauthToken,
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UploadPlatform{}, err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertPlatform(ctx, tx, p); err != nil {
		return domain.UploadPlatform{}, err
	}
	if err := a.Events.Append(ctx, tx, "platform.added", profileID, "platform", p.ID, events.EventPayload{"platform": platform}); err != nil {
		return domain.UploadPlatform{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UploadPlatform{}, err
	}
	return p, nil
}

// ScheduleOverride requests a one-off run at runsAt, superseding the cron
// schedule for that fire.
func (a Admin) ScheduleOverride(ctx context.Context, profileID string, runsAt time.Time) (domain.Override, error) {
	if _, err := a.Repo.GetProfile(ctx, profileID); err != nil {
		return domain.Override{}, err
	}
	o := domain.Override{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		RunsAt:    runsAt.UTC().Format(time.RFC3339),
		CreatedAt: a.now().UTC().Format(time.RFC3339),
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Override{}, err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertOverride(ctx, tx, o); err != nil {
		return domain.Override{}, err
	}
	if err := a.Events.Append(ctx, tx, "override.created", profileID, "override", o.ID, events.EventPayload{"runs_at": o.RunsAt}); err != nil {
		return domain.Override{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Override{}, err
	}
	return o, nil
}

func ptr(s string) *string { return &s }
