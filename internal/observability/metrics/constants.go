// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~200ms range).
	BucketStart100us = 0.0001
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout bounds graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
