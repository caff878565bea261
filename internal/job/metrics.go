package job

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/maauso/videonote/internal/job"

// pipelineMetrics holds the OpenTelemetry instruments recorded per job.
type pipelineMetrics struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func newPipelineMetrics(meter metric.Meter) (*pipelineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	completed, err := meter.Int64Counter("videonote.jobs.completed",
		metric.WithDescription("Video notes generated successfully"),
	)
	if err != nil {
		return nil, fmt.Errorf("job: create completed counter: %w", err)
	}

	failed, err := meter.Int64Counter("videonote.jobs.failed",
		metric.WithDescription("Jobs that ended with an error, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("job: create failed counter: %w", err)
	}

	duration, err := meter.Float64Histogram("videonote.job.duration",
		metric.WithDescription("Wall time from upload to finished note"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("job: create duration histogram: %w", err)
	}

	return &pipelineMetrics{completed: completed, failed: failed, duration: duration}, nil
}

func (m *pipelineMetrics) record(ctx context.Context, kind ErrorKind, elapsed time.Duration) {
	outcome := attribute.String("outcome", "completed")
	if kind == KindNone {
		m.completed.Add(ctx, 1)
	} else {
		outcome = attribute.String("outcome", "failed")
		m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	}
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(outcome))
}
