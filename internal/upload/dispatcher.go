package upload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/events"
	"clipforge/internal/faults"
	"clipforge/internal/repo"
)

// Publisher pushes a finished artifact to one platform kind. Upload client
// internals (OAuth exchange, chunked upload protocols) live behind this
// interface, outside the engine.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, artifact string, platform domain.UploadPlatform) (string, error)
}

// Failure reports one platform that could not be published this pass.
type Failure struct {
	Platform domain.UploadPlatform
	Err      error
}

// Dispatcher fans a finished artifact out to a run's configured platforms.
// Platforms are independent: one failure never blocks the others.
type Dispatcher struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Now        func() time.Time
	publishers map[string]Publisher
}

func NewDispatcher(db *sql.DB, publishers ...Publisher) *Dispatcher {
	d := &Dispatcher{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Now:        time.Now,
		publishers: map[string]Publisher{},
	}
	for _, p := range publishers {
		if _, exists := d.publishers[p.Platform()]; exists {
			panic(fmt.Sprintf("publisher for platform %s already registered", p.Platform()))
		}
		d.publishers[p.Platform()] = p
	}
	return d
}

// Publish attempts every platform that does not already have an upload
// recorded for this run. Successes are persisted immediately, each in its own
// transaction, so a crash mid-fanout never loses a completed publish and a
// later pass never re-publishes it. The returned error reports persistence
// trouble only; per-platform publish failures come back as Failures.
func (d *Dispatcher) Publish(ctx context.Context, run domain.Run, artifact string, platforms []domain.UploadPlatform) ([]domain.Upload, []Failure, error) {
	existing, err := d.Repo.ListUploadsForRun(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(existing))
	for _, u := range existing {
		done[u.PlatformID] = true
	}

	var recorded []domain.Upload
	var failures []Failure
	for _, platform := range platforms {
		if done[platform.ID] {
			continue
		}
		pub, ok := d.publishers[platform.Platform]
		if !ok {
			failures = append(failures, Failure{Platform: platform,
				Err: faults.Configf("no publisher registered for platform %s", platform.Platform)})
			continue
		}
		url, err := pub.Publish(ctx, artifact, platform)
		if err != nil {
			failures = append(failures, Failure{Platform: platform, Err: err})
			continue
		}
		u := domain.Upload{
			ID:         uuid.New().String(),
			PlatformID: platform.ID,
			RunID:      run.ID,
			URL:        url,
			UploadedAt: d.Now().UTC().Format(time.RFC3339),
		}
		if err := d.record(ctx, run, u, platform); err != nil {
			return recorded, failures, err
		}
		recorded = append(recorded, u)
	}
	return recorded, failures, nil
}

func (d *Dispatcher) record(ctx context.Context, run domain.Run, u domain.Upload, platform domain.UploadPlatform) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := d.Repo.InsertUploadTx(ctx, tx, u); err != nil {
		return err
	}
	if err := d.Events.Append(ctx, tx, "upload.recorded", run.ProfileID, "upload", u.ID, events.EventPayload{
		"run_id":   run.ID,
		"platform": platform.Platform,
		"url":      u.URL,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
