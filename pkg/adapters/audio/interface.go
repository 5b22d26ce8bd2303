package audio

import (
	"context"

	"github.com/harunnryd/livesub/pkg/frames"
)

// Source delivers captured audio buffers. The returned channel is closed when
// capture ends. Setup failures wrap errorsx.ErrPermission,
// errorsx.ErrNoSource or errorsx.ErrSetup.
type Source interface {
	Name() string
	StartCapture(ctx context.Context) (<-chan frames.AudioFrame, error)
	StopCapture(ctx context.Context) error
}
