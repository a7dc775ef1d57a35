package telemetry

import "time"

// Sample is one point on the live polarization trace. Samples are
// illustrative only; the authoritative QBER comes from the session engine's
// own measurement, never from this feed.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}
