// Package output holds what the sinks share: JSON encoding of published
// values and publish accounting. The sinks live in the sub-packages file,
// httppost, queue, rpc and s3.
package output

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
)

// Encode returns the compact JSON form of v. A *record.Record keeps its key
// order.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "output", "Encode", "marshal")
	}
	return data, nil
}

// EncodeIndent is Encode with two-space indentation.
func EncodeIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "output", "EncodeIndent", "marshal")
	}
	return data, nil
}

// Base carries the name, logger and metrics of a sink.
type Base struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewBase creates the shared part of a sink called name.
func NewBase(name string, deps component.Dependencies) Base {
	b := Base{
		name:   name,
		logger: deps.GetLoggerWithComponent(name),
	}
	if deps.MetricsRegistry != nil {
		b.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return b
}

// Name returns the sink name.
func (b Base) Name() string {
	return b.name
}

// Logger returns the sink logger.
func (b Base) Logger() *slog.Logger {
	return b.logger
}

// Observe counts a publish attempt and logs failures. It returns err.
func (b Base) Observe(err error) error {
	status := "ok"
	if err != nil {
		status = "error"
		b.logger.Error("OUTPUT publish failed", "error", err)
		if b.metrics != nil {
			b.metrics.RecordError(b.name, "publish")
		}
	} else {
		b.logger.Debug("OUTPUT published")
	}
	if b.metrics != nil {
		b.metrics.RecordPublished(b.name, status)
	}
	return err
}
