package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"clipforge/internal/domain"
	"clipforge/internal/faults"
)

// LocalPublisher copies the artifact into a sink directory and returns a
// file locator. It is the reference platform and needs no credentials.
type LocalPublisher struct {
	Dir string
}

func (LocalPublisher) Platform() string { return domain.PlatformLocal }

func (p LocalPublisher) Publish(ctx context.Context, artifact string, platform domain.UploadPlatform) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", faults.TransientErr(err)
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", faults.TransientErr(err)
	}
	src, err := os.Open(artifact)
	if err != nil {
		return "", faults.TransientErr(fmt.Errorf("open artifact: %w", err))
	}
	defer src.Close()
	dest := filepath.Join(p.Dir, fmt.Sprintf("%s-%s", platform.ProfileID, filepath.Base(artifact)))
	dst, err := os.Create(dest)
	if err != nil {
		return "", faults.TransientErr(err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", faults.TransientErr(err)
	}
	return "file://" + dest, nil
}

// UnconfiguredPublisher stands in for a platform whose upload client has not
// been wired. Publishing through it is a configuration fault, so an
// unattended run fails loudly instead of pretending to upload.
type UnconfiguredPublisher struct {
	Kind string
}

func (p UnconfiguredPublisher) Platform() string { return p.Kind }

func (p UnconfiguredPublisher) Publish(ctx context.Context, artifact string, platform domain.UploadPlatform) (string, error) {
	return "", faults.Configf("no %s upload client configured", p.Kind)
}
