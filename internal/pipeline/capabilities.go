package pipeline

import (
	"context"

	"clipforge/internal/compose"
)

// The generation capabilities are external collaborators. Each call returns a
// value or an error tagged with a faults class; the coordinator treats the
// tag as authoritative and never re-classifies it.

// Generator produces text from a prompt template and prior context.
type Generator interface {
	Generate(ctx context.Context, promptTemplate, priorContext string) (string, error)
}

// Synthesizer turns text into a narration audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceName string) (string, error)
}

// SubtitleRenderer produces a subtitle track synced to an audio artifact.
type SubtitleRenderer interface {
	Render(ctx context.Context, audioRef, text string) (string, error)
}

// BackgroundFetcher selects a background asset matching a glob filter.
type BackgroundFetcher interface {
	Fetch(ctx context.Context, glob string) (string, error)
}

// Composer renders a resolved composition into a video artifact.
type Composer interface {
	Compose(ctx context.Context, cc *compose.Context) (string, error)
}

// Capabilities bundles the collaborators a coordinator drives.
type Capabilities struct {
	Generator  Generator
	Voice      Synthesizer
	Subtitles  SubtitleRenderer
	Background BackgroundFetcher
	Composer   Composer
}
