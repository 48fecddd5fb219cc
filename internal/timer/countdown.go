package timer

import (
	"time"

	"auction-engine/internal/models"
)

const (
	UrgentThreshold   = 5 * time.Minute
	CriticalThreshold = time.Minute
)

// Breakdown splits d into whole days, hours, minutes and seconds
func Breakdown(d time.Duration) models.Countdown {
	if d <= 0 {
		return models.Countdown{Expired: true, Urgent: true, Critical: true}
	}

	total := int64(d / time.Second)
	return models.Countdown{
		Days:     int(total / 86400),
		Hours:    int(total % 86400 / 3600),
		Minutes:  int(total % 3600 / 60),
		Seconds:  int(total % 60),
		Urgent:   d <= UrgentThreshold,
		Critical: d <= CriticalThreshold,
	}
}
