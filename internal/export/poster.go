// Package export holds the outbound side of the relay: the Poster
// capability implemented by every backend, and the health server.
package export

import (
	"context"
	"time"
)

// Poster submits single data points to a monitoring backend.
// Any returned error is treated by callers as a transport failure.
type Poster interface {
	// SendMetricDataPoint submits a global data point.
	SendMetricDataPoint(ctx context.Context, name string, value float64, ts time.Time) error
	// SendInstanceMetricDataPoint submits a data point scoped to instanceID.
	SendInstanceMetricDataPoint(
		ctx context.Context,
		name string,
		value float64,
		ts time.Time,
		instanceID string,
	) error
	// Name identifies the backend in logs and metrics.
	Name() string
	// Close releases connections held by the poster.
	Close() error
}
