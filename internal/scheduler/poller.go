package scheduler

import (
	"context"
	"log/slog"
	"time"

	"clipforge/internal/pipeline"
)

// Poller is the recurring loop: re-attach to in-flight runs, claim what is
// due, drive everything forward. Multiple pollers may run in separate
// processes; the store's atomic claims keep them from colliding.
type Poller struct {
	Selector *Selector
	Coord    *pipeline.Coordinator
	Interval time.Duration
	Log      *slog.Logger
}

func NewPoller(sel *Selector, coord *pipeline.Coordinator, interval time.Duration, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{Selector: sel, Coord: coord, Interval: interval, Log: log}
}

// Run ticks until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	p.Log.Info("poller started", "interval", p.Interval.String())
	for {
		p.Tick(ctx)
		select {
		case <-ctx.Done():
			p.Log.Info("poller stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one scheduler pass. A run's non-terminal existence is the
// lock, so re-attaching to existing runs comes before claiming new ones:
// after a crash the same worker resumes exactly where the store says the run
// stands.
func (p *Poller) Tick(ctx context.Context) {
	attached, err := p.Selector.Repo.AttachableRuns(ctx)
	if err != nil {
		p.Log.Error("list in-flight runs", "error", err)
	}
	for _, run := range attached {
		if len(run.Processing) > 0 {
			p.Log.Warn("composition was in flight, re-running from scratch",
				"run", run.ID, "units", len(run.Processing))
		}
		driven, err := p.Coord.Drive(ctx, run)
		if err != nil {
			p.Log.Error("drive run", "run", run.ID, "state", string(run.State), "error", err)
			continue
		}
		p.Log.Info("run progressed", "run", driven.ID, "state", string(driven.State))
	}

	tickets, err := p.Selector.SelectDue(ctx)
	if err != nil {
		p.Log.Error("select due profiles", "error", err)
	}
	for _, t := range tickets {
		p.Log.Info("run claimed", "run", t.Run.ID, "profile", t.Profile.ID, "source", t.Source)
		driven, err := p.Coord.Drive(ctx, t.Run)
		if err != nil {
			p.Log.Error("drive run", "run", t.Run.ID, "error", err)
			continue
		}
		p.Log.Info("run progressed", "run", driven.ID, "state", string(driven.State))
	}
}
