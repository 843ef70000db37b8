package domain

// QueueConfig is the singleton queue tuning record. It is loaded from the
// store at the start of every dispatcher cycle and never written by the
// scheduler.
type QueueConfig struct {
	MaxConcurrentRenders int     `json:"max_concurrent_renders"`
	MaxManimRenders      int     `json:"max_manim_renders"`
	JobTimeoutMinutes    int     `json:"job_timeout_minutes"`
	MaxRetries           int     `json:"max_retries"`
	PeakHourStart        string  `json:"peak_hour_start"`
	PeakHourEnd          string  `json:"peak_hour_end"`
	PeakWorkerMultiplier float64 `json:"peak_worker_multiplier"`
}

// DefaultQueueConfig matches the values the config table is seeded with on
// first start.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentRenders: 10,
		MaxManimRenders:      2,
		JobTimeoutMinutes:    30,
		MaxRetries:           3,
		PeakHourStart:        "06:00",
		PeakHourEnd:          "21:00",
		PeakWorkerMultiplier: 1.5,
	}
}
