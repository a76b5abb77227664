// Package local holds filesystem-backed stand-ins for the external
// generation capabilities. Real AI, TTS and compositing engines plug in
// behind the same interfaces; these keep the pipeline runnable end-to-end
// and deterministic under test.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"clipforge/internal/compose"
	"clipforge/internal/faults"
)

// Generator fills a prompt template locally instead of calling a model. The
// {context} placeholder receives the prior step's output.
type Generator struct{}

func (Generator) Generate(ctx context.Context, promptTemplate, priorContext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", faults.TransientErr(err)
	}
	if promptTemplate == "" {
		return "", faults.Configf("empty prompt template")
	}
	if strings.Contains(promptTemplate, "{context}") {
		return strings.ReplaceAll(promptTemplate, "{context}", priorContext), nil
	}
	if priorContext == "" {
		return promptTemplate, nil
	}
	return promptTemplate + "\n\n" + priorContext, nil
}

// Synthesizer writes the narration text next to where a TTS engine would
// drop its audio and returns that path as the voice artifact.
type Synthesizer struct {
	Dir string
}

func (s Synthesizer) Synthesize(ctx context.Context, text, voiceName string) (string, error) {
	if text == "" {
		return "", faults.Configf("nothing to synthesize")
	}
	return writeArtifact(ctx, s.Dir, "voice", ".wav.txt", fmt.Sprintf("voice=%s\n%s", voiceName, text))
}

// SubtitleRenderer emits a trivial single-cue subtitle track for the text.
type SubtitleRenderer struct {
	Dir string
}

func (s SubtitleRenderer) Render(ctx context.Context, audioRef, text string) (string, error) {
	if audioRef == "" {
		return "", faults.Configf("no audio to sync subtitles against")
	}
	cue := "1\n00:00:00,000 --> 00:00:30,000\n" + text + "\n"
	return writeArtifact(ctx, s.Dir, "subs", ".srt", cue)
}

// BackgroundFetcher picks the first asset under the media dir matching the
// profile's glob filter.
type BackgroundFetcher struct {
	MediaDir string
}

func (b BackgroundFetcher) Fetch(ctx context.Context, glob string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", faults.TransientErr(err)
	}
	if glob == "" {
		glob = "*"
	}
	matches, err := filepath.Glob(filepath.Join(b.MediaDir, glob))
	if err != nil {
		return "", faults.Configf("background glob %q: %v", glob, err)
	}
	if len(matches) == 0 {
		return "", faults.TransientErr(fmt.Errorf("no background matches %q under %s", glob, b.MediaDir))
	}
	return matches[0], nil
}

// Composer serializes the resolved composition into a manifest file standing
// in for the rendered video.
type Composer struct {
	Dir string
}

func (c Composer) Compose(ctx context.Context, cc *compose.Context) (string, error) {
	if len(cc.Tracks) == 0 {
		return "", faults.Configf("composition has no tracks")
	}
	manifest, err := json.MarshalIndent(map[string]any{
		"width":  cc.Width,
		"height": cc.Height,
		"tracks": cc.Tracks,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return writeArtifact(ctx, c.Dir, "video", ".clip.json", string(manifest))
}

func writeArtifact(ctx context.Context, dir, prefix, ext, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", faults.TransientErr(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", faults.TransientErr(err)
	}
	path := filepath.Join(dir, prefix+"-"+uuid.New().String()+ext)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", faults.TransientErr(err)
	}
	return path, nil
}
