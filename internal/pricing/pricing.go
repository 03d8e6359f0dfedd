package pricing

import (
	"fmt"
	"time"

	"OminisNode/internal/models"
)

// Schedule maps each time tier to its response budget.
type Schedule struct {
	Budgets map[models.TimeTier]time.Duration
}

func DefaultSchedule() Schedule {
	return Schedule{Budgets: map[models.TimeTier]time.Duration{
		models.Tier2Min:  2 * time.Minute,
		models.Tier5Min:  5 * time.Minute,
		models.Tier15Min: 15 * time.Minute,
		models.Tier1Hour: time.Hour,
	}}
}

func (s Schedule) Budget(tier models.TimeTier) (time.Duration, error) {
	if d, ok := s.Budgets[tier]; ok {
		return d, nil
	}
	if d, ok := DefaultSchedule().Budgets[tier]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown time tier %d", tier)
}

// Deadline is used when the posting event does not carry one.
func (s Schedule) Deadline(tier models.TimeTier, createdAt time.Time) (time.Time, error) {
	d, err := s.Budget(tier)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.Add(d), nil
}
