package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clipforge/internal/compose"
	"clipforge/internal/config"
	"clipforge/internal/domain"
	"clipforge/internal/events"
	"clipforge/internal/faults"
	"clipforge/internal/repo"
	"clipforge/internal/upload"
)

// Coordinator owns the lifecycle of runs. Nothing else mutates a run's state:
// every transition goes through advance, retry or fail, and each is committed
// before further work proceeds.
type Coordinator struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Caps     Capabilities
	Registry *compose.Registry
	Uploader *upload.Dispatcher
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, caps Capabilities, uploader *upload.Dispatcher) *Coordinator {
	return &Coordinator{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Caps:     caps,
		Registry: compose.DefaultRegistry(),
		Uploader: uploader,
		Now:      time.Now,
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func ensureRunTransition(old, next domain.RunState) error {
	if next == domain.StateError && !old.Terminal() {
		return nil
	}
	if want, ok := old.Next(); ok && want == next {
		return nil
	}
	return fmt.Errorf("invalid run state transition %s -> %s", old, next)
}

// Drive steps a run until it reaches a terminal state or a retryable failure
// defers it to the next scheduler pass.
func (c *Coordinator) Drive(ctx context.Context, run domain.Run) (domain.Run, error) {
	for !run.State.Terminal() {
		before := run.State
		stepped, err := c.Step(ctx, run)
		if err != nil {
			return run, err
		}
		run = stepped
		if run.State == before {
			// transient failure absorbed; retried next pass
			break
		}
	}
	return run, nil
}

// Step executes exactly one state's capability call and commits the outcome.
// It returns the refreshed run; the only error it surfaces is persistence
// trouble, which leaves the run untouched for the next pass.
func (c *Coordinator) Step(ctx context.Context, run domain.Run) (domain.Run, error) {
	if run.State.Terminal() {
		return run, nil
	}
	profile, err := c.Repo.GetProfile(ctx, run.ProfileID)
	if err != nil {
		return run, fmt.Errorf("load profile %s: %w", run.ProfileID, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.Config.StepTimeout())
	defer cancel()

	var stepErr error
	switch run.State {
	case domain.StateGeneratingQuestion:
		run.Question, stepErr = c.Caps.Generator.Generate(stepCtx, profile.QuestionPrompt, "")
	case domain.StateGeneratingAnswer:
		run.Answer, stepErr = c.Caps.Generator.Generate(stepCtx, profile.AnswerPrompt, run.Question)
	case domain.StateRenderingVoice:
		run.VoiceRef, stepErr = c.Caps.Voice.Synthesize(stepCtx, narration(run), profile.VoiceName)
	case domain.StateRenderingSubtitles:
		run.SubtitleRef, stepErr = c.Caps.Subtitles.Render(stepCtx, run.VoiceRef, narration(run))
	case domain.StateDownloadingBackground:
		run.BackgroundRef, stepErr = c.Caps.Background.Fetch(stepCtx, profile.BackgroundGlob)
	case domain.StateComposingVideo:
		return c.composeStep(ctx, stepCtx, profile, run)
	case domain.StateUploading:
		return c.uploadStep(ctx, stepCtx, profile, run)
	default:
		return c.fail(ctx, run, faults.Configf("run %s in unknown state %s", run.ID, run.State))
	}

	if stepErr != nil {
		return c.recordFailure(ctx, run, timeoutAsTransient(stepCtx, stepErr))
	}
	return c.advance(ctx, run)
}

func narration(run domain.Run) string {
	if run.Answer == "" {
		return run.Question
	}
	return run.Question + "\n" + run.Answer
}

// timeoutAsTransient maps a step deadline to a retryable fault; a timed-out
// capability keeps its own tag otherwise.
func timeoutAsTransient(stepCtx context.Context, err error) error {
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return faults.TransientErr(err)
	}
	return err
}

// composeStep records the reachable stage/layer units as the processing set,
// resolves the graph, and invokes the compositing capability. The set is
// cleared only when composition fully succeeds or fully fails, so a crash
// anywhere in between leaves a non-empty set and the whole step re-runs from
// scratch on re-attach. Composition never applies partial state, which makes
// the re-run idempotent.
func (c *Coordinator) composeStep(ctx, stepCtx context.Context, profile domain.Profile, run domain.Run) (domain.Run, error) {
	stages, layersByStage, err := c.Repo.StageGraph(ctx, profile.ID)
	if err != nil {
		return run, fmt.Errorf("load stage graph: %w", err)
	}
	chain, err := compose.Chain(stages)
	if err != nil {
		return c.fail(ctx, run, err)
	}

	var units []string
	for _, stage := range chain {
		for _, layer := range layersByStage[stage.ID] {
			units = append(units, stage.ID+"."+layer.ID)
		}
	}
	run.Processing = units
	if err := c.persist(ctx, run, "run.processing", events.EventPayload{"units": len(units)}); err != nil {
		return run, err
	}

	width, height, err := compose.ParseAspect(profile.AspectRatio)
	if err != nil {
		return c.fail(ctx, run, err)
	}
	in := compose.Inputs{
		Question:      run.Question,
		Answer:        run.Answer,
		VoiceRef:      run.VoiceRef,
		SubtitleRef:   run.SubtitleRef,
		BackgroundRef: run.BackgroundRef,
		FontName:      profile.FontName,
		VoiceName:     profile.VoiceName,
		Width:         width,
		Height:        height,
	}
	cc, err := compose.Resolve(c.Registry, stages, layersByStage, in)
	if err != nil {
		return c.fail(ctx, run, err)
	}

	video, err := c.Caps.Composer.Compose(stepCtx, cc)
	if err != nil {
		err = timeoutAsTransient(stepCtx, err)
		if faults.Retryable(err) {
			// leave the processing set in place: the retry re-runs
			// composition from scratch
			return c.recordFailure(ctx, run, err)
		}
		return c.fail(ctx, run, err)
	}
	run.VideoRef = video
	run.Processing = nil
	return c.advance(ctx, run)
}

// uploadStep fans out to the configured platforms. It advances only when
// every platform has a recorded upload; remaining failures consume the
// state's retry budget and then escalate, so one dead platform fails the run
// even after the others succeeded.
func (c *Coordinator) uploadStep(ctx, stepCtx context.Context, profile domain.Profile, run domain.Run) (domain.Run, error) {
	platforms, err := c.Repo.ListPlatforms(ctx, profile.ID)
	if err != nil {
		return run, fmt.Errorf("load platforms: %w", err)
	}
	_, failures, err := c.Uploader.Publish(stepCtx, run, run.VideoRef, platforms)
	if err != nil {
		return run, fmt.Errorf("record uploads: %w", err)
	}
	if len(failures) == 0 {
		return c.advance(ctx, run)
	}
	var errs []error
	var fatal error
	for _, f := range failures {
		errs = append(errs, fmt.Errorf("platform %s: %w", f.Platform.Platform, f.Err))
		if fatal == nil && !faults.Retryable(f.Err) {
			fatal = f.Err
		}
	}
	joined := errors.Join(errs...)
	if fatal != nil {
		// the publisher's own tag stays authoritative
		return c.fail(ctx, run, &faults.Fault{Class: faults.ClassOf(fatal), Err: joined})
	}
	return c.recordFailure(ctx, run, faults.TransientErr(joined))
}

// advance commits the transition to the next pipeline state. The write must
// land before any further work: a crash after commit resumes at the new
// state and never redoes the completed step.
func (c *Coordinator) advance(ctx context.Context, run domain.Run) (domain.Run, error) {
	next, ok := run.State.Next()
	if !ok {
		return run, fmt.Errorf("run %s has no next state after %s", run.ID, run.State)
	}
	if err := ensureRunTransition(run.State, next); err != nil {
		return run, err
	}
	prev := run.State
	run.State = next
	run.Attempts = 0
	evtType := "run.state"
	payload := events.EventPayload{"from": string(prev), "to": string(next)}
	if next == domain.StateDone {
		now := c.now().UTC().Format(time.RFC3339)
		run.FinishedAt = &now
		evtType = "run.finished"
	}
	if err := c.persist(ctx, run, evtType, payload); err != nil {
		run.State = prev
		return run, err
	}
	return run, nil
}

// recordFailure absorbs a transient failure: the run stays in its state with
// a bumped attempt counter until the budget is gone, then escalates.
func (c *Coordinator) recordFailure(ctx context.Context, run domain.Run, stepErr error) (domain.Run, error) {
	if !faults.Retryable(stepErr) {
		return c.fail(ctx, run, stepErr)
	}
	run.Attempts++
	if run.Attempts >= c.Config.Scheduler.RetryBudget {
		return c.fail(ctx, run, faults.ExhaustedErr(
			fmt.Errorf("state %s retry budget (%d) exhausted: %w", run.State, c.Config.Scheduler.RetryBudget, stepErr)))
	}
	err := c.persist(ctx, run, "run.retry", events.EventPayload{
		"state":    string(run.State),
		"attempts": run.Attempts,
		"error":    stepErr.Error(),
	})
	return run, err
}

// fail moves the run to Error and pauses the owning profile in the same
// transaction. An unattended pipeline must not repeat a failure unattended;
// the profile stays paused until explicitly resumed.
func (c *Coordinator) fail(ctx context.Context, run domain.Run, cause error) (domain.Run, error) {
	detail := cause.Error()
	run.Error = &detail
	run.State = domain.StateError
	now := c.now().UTC().Format(time.RFC3339)
	run.FinishedAt = &now
	run.Processing = nil

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	if err := c.Repo.UpdateRun(ctx, tx, run); err != nil {
		return run, err
	}
	if err := c.Repo.SetProfilePaused(ctx, tx, run.ProfileID, true); err != nil {
		return run, err
	}
	if err := c.Events.Append(ctx, tx, "run.failed", run.ProfileID, "run", run.ID, events.EventPayload{
		"class": faults.ClassOf(cause).String(),
		"error": detail,
	}); err != nil {
		return run, err
	}
	if err := c.Events.Append(ctx, tx, "profile.paused", run.ProfileID, "profile", run.ProfileID, events.EventPayload{
		"reason": "run failed",
		"run_id": run.ID,
	}); err != nil {
		return run, err
	}
	return run, tx.Commit()
}

// persist commits the run row plus one event in a single transaction.
func (c *Coordinator) persist(ctx context.Context, run domain.Run, evtType string, payload events.EventPayload) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := c.Repo.UpdateRun(ctx, tx, run); err != nil {
		return err
	}
	if err := c.Events.Append(ctx, tx, evtType, run.ProfileID, "run", run.ID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// Cancel transitions an in-flight run to Error with a cancellation detail.
// A canceled run is never silently abandoned.
func (c *Coordinator) Cancel(ctx context.Context, runID string) (domain.Run, error) {
	run, err := c.Repo.GetRun(ctx, runID)
	if err != nil {
		return run, err
	}
	if run.State.Terminal() {
		return run, fmt.Errorf("run %s already %s", runID, run.State)
	}
	return c.fail(ctx, run, faults.TerminalErr(errors.New("run canceled")))
}
