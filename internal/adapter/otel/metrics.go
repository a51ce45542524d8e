package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tasking"

// Metrics holds all tasking metric instruments.
type Metrics struct {
	LocksAcquired       metric.Int64Counter
	TasksMapped         metric.Int64Counter
	TasksValidated      metric.Int64Counter
	TasksInvalidated    metric.Int64Counter
	BatchUnlockDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.LocksAcquired, err = meter.Int64Counter("tasking.locks.acquired",
		metric.WithDescription("Number of task locks acquired"))
	if err != nil {
		return nil, err
	}

	m.TasksMapped, err = meter.Int64Counter("tasking.tasks.mapped",
		metric.WithDescription("Number of tasks moved to MAPPED"))
	if err != nil {
		return nil, err
	}

	m.TasksValidated, err = meter.Int64Counter("tasking.tasks.validated",
		metric.WithDescription("Number of tasks moved to VALIDATED"))
	if err != nil {
		return nil, err
	}

	m.TasksInvalidated, err = meter.Int64Counter("tasking.tasks.invalidated",
		metric.WithDescription("Number of tasks moved to INVALIDATED"))
	if err != nil {
		return nil, err
	}

	m.BatchUnlockDuration, err = meter.Float64Histogram("tasking.batch_unlock.duration_seconds",
		metric.WithDescription("Batch unlock-after-validation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
