package pipeline

import (
	"sync/atomic"
)

// counters aggregates the pipeline's lifetime counts. All fields are
// atomics; the hot path touches them without locking.
type counters struct {
	delivered         atomic.Uint64
	invalidFrames     atomic.Uint64
	published         atomic.Uint64
	inferenceFailures atomic.Uint64
	sensorMismatches  atomic.Uint64
	switches          atomic.Uint64
	lastLatencyMs     atomic.Int64
	lastFrameNanos    atomic.Int64
}

// StatsSnapshot is a point-in-time view of pipeline health, served by
// the stats endpoint and logged at the configured interval
type StatsSnapshot struct {
	ActiveSensor      string `json:"active_sensor"`
	EffectiveRotation int    `json:"effective_rotation"`
	Engine            string `json:"engine"`
	FramesDelivered   uint64 `json:"frames_delivered"`
	FramesDroppedBusy uint64 `json:"frames_dropped_busy"`
	MailboxOverwrites uint64 `json:"mailbox_overwrites"`
	InvalidFrames     uint64 `json:"invalid_frames"`
	CyclesPublished   uint64 `json:"cycles_published"`
	InferenceFailures uint64 `json:"inference_failures"`
	SensorMismatches  uint64 `json:"sensor_mismatches"`
	SensorSwitches    uint64 `json:"sensor_switches"`
	LastLatencyMs     int64  `json:"last_latency_ms"`
	LastFrameAgeMs    int64  `json:"last_frame_age_ms"`
}
