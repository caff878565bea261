package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/videonote/internal/heygen"
)

// StatusChecker performs a single status query for a render job.
type StatusChecker interface {
	VideoStatus(ctx context.Context, videoID string) (heygen.StatusResult, error)
}

// Poller waits for a render job by following a BackoffSchedule.
type Poller struct {
	checker StatusChecker
	logger  *slog.Logger
}

// NewPoller creates a new Poller.
func NewPoller(checker StatusChecker, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{checker: checker, logger: logger}
}

// PollUntilReady waits for each delay in schedule and then queries the
// status exactly once. It returns the result URL on completion.
//
// A failed render returns *RenderFailedError without further queries.
// A transport failure returns *PollTransportError and stops polling.
// Running out of delays returns ErrGenerationTimeout after schedule.Len() queries.
func (p *Poller) PollUntilReady(ctx context.Context, videoID string, schedule BackoffSchedule) (string, error) {
	for i, delay := range schedule.delays {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("job: polling cancelled: %w", err)
		}
		if err := sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("job: polling cancelled: %w", err)
		}

		attempt := i + 1
		res, err := p.checker.VideoStatus(ctx, videoID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("job: polling cancelled: %w", ctxErr)
			}
			if errors.Is(err, heygen.ErrMalformedResponse) {
				return "", err
			}
			return "", &PollTransportError{VideoID: videoID, Attempt: attempt, Err: err}
		}

		switch {
		case res.Status == heygen.StatusCompleted:
			if res.VideoURL == "" {
				return "", &heygen.MalformedResponseError{Op: "status: completed without video_url"}
			}
			p.logger.Debug("render completed",
				slog.String("video_id", videoID),
				slog.Int("attempt", attempt),
			)
			return res.VideoURL, nil
		case res.Status.IsFailure():
			return "", &RenderFailedError{VideoID: videoID, Detail: res.Detail}
		}

		p.logger.Debug("render in progress",
			slog.String("video_id", videoID),
			slog.String("status", string(res.Status)),
			slog.Int("attempt", attempt),
			slog.Int("of", schedule.Len()),
		)
	}

	return "", fmt.Errorf("%w: %d status checks over %s", ErrGenerationTimeout, schedule.Len(), schedule.Total())
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
