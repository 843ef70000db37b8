package services

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prepstack/render-queue/internal/core/domain"
)

// Admission policy: pure functions of config, clock and current counts.
// The store's conditional writes enforce the decision; these only compute it.

// IsPeakHour reports whether now falls inside the configured peak window,
// compared by minute-of-day, inclusive on both ends. Wrapping windows are
// not supported (start < end assumed).
func IsPeakHour(cfg domain.QueueConfig, now time.Time) bool {
	start, okStart := parseClock(cfg.PeakHourStart)
	end, okEnd := parseClock(cfg.PeakHourEnd)
	if !okStart || !okEnd || start >= end {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute <= end
}

// EffectiveCap is the global concurrency cap, scaled up during peak hours.
func EffectiveCap(cfg domain.QueueConfig, now time.Time) int {
	if IsPeakHour(cfg, now) {
		return int(math.Floor(float64(cfg.MaxConcurrentRenders) * cfg.PeakWorkerMultiplier))
	}
	return cfg.MaxConcurrentRenders
}

// AvailableSlots is how many new jobs may start this cycle, clamped at zero.
func AvailableSlots(cfg domain.QueueConfig, now time.Time, processing int) int {
	slots := EffectiveCap(cfg, now) - processing
	if slots < 0 {
		return 0
	}
	return slots
}

// ManimBudget tracks the per-type cap for compute-heavy manim renders within
// a single dispatch batch. Jobs over budget are skipped, not blocked on.
type ManimBudget struct {
	limit int
	used  int
}

// NewManimBudget starts a budget from the number of manim jobs already
// processing.
func NewManimBudget(cfg domain.QueueConfig, processingManim int) ManimBudget {
	return ManimBudget{limit: cfg.MaxManimRenders, used: processingManim}
}

// Admit reports whether a job of the given type fits the budget and, if it
// is a manim render, consumes one slot.
func (b *ManimBudget) Admit(t domain.JobType) bool {
	if t != domain.JobTypeTopicShort {
		return true
	}
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
