package renderer

import (
	"context"

	"github.com/vidcompose/vidcompose/pkg/models"
)

// ProgressFunc reports render progress as a 0-100 percentage.
// Implementations may call it from the render goroutine at any rate;
// the store drops stale values.
type ProgressFunc func(percent int)

// Renderer turns a validated composition into an output artifact.
// Render blocks until the render finishes, fails, or ctx is cancelled,
// and returns a reference to the produced artifact. Renders are opaque
// to the orchestration core: any error is recorded verbatim on the job.
type Renderer interface {
	Render(ctx context.Context, job *models.Job, progress ProgressFunc) (outputRef string, err error)
}
