package services

import "github.com/prepstack/render-queue/internal/core/domain"

// AssignPriority maps a job type to its priority class. Pure and total:
// unrecognized types land on medium so a new job type degrades gracefully
// instead of starving or jumping the queue.
func AssignPriority(t domain.JobType) domain.Priority {
	switch t {
	case domain.JobTypeDoubt:
		return domain.PriorityHigh
	case domain.JobTypeNotes:
		return domain.PriorityMedium
	case domain.JobTypeTopicShort, domain.JobTypeDailyCA:
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}
