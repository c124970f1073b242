package utils

import "time"

// Dinners start at 20:00 local time on Saturdays. Registration for a given
// Saturday closes at noon that day; cancellation closes at 00:01 on the
// Friday before.
const (
	DinnerHour              = 20
	RegistrationCutoffHour  = 12
	cancellationCutoffHour  = 0
	cancellationCutoffMin   = 1
	CancellationBookingGrace = 24 * time.Hour
)

// UpcomingSaturdays returns the next count bookable Saturday dinner instants
// in loc, starting from now. A Saturday is bookable while now is before its
// registration cutoff, so today can still qualify on a Saturday morning.
func UpcomingSaturdays(now time.Time, loc *time.Location, count int) []time.Time {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var out []time.Time
	for len(out) < count {
		if day.Weekday() == time.Saturday {
			cutoff := time.Date(day.Year(), day.Month(), day.Day(), RegistrationCutoffHour, 0, 0, 0, loc)
			if local.Before(cutoff) {
				out = append(out, time.Date(day.Year(), day.Month(), day.Day(), DinnerHour, 0, 0, 0, loc))
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// FormationDeadline is the instant the main team-formation run fires. A
// payment captured after it takes the late-arrival path.
func FormationDeadline(eventStart time.Time) time.Time {
	return eventStart.Add(-24 * time.Hour)
}

// CancellationCutoff is 00:01 on the Friday before the dinner, in the event's
// own timezone.
func CancellationCutoff(eventStart time.Time, loc *time.Location) time.Time {
	ev := eventStart.In(loc)
	friday := ev.AddDate(0, 0, -1)
	return time.Date(friday.Year(), friday.Month(), friday.Day(), cancellationCutoffHour, cancellationCutoffMin, 0, 0, loc)
}

// CanCancel reports whether a booking is still user-cancelable: within the
// grace period after booking AND before the event-week cutoff.
func CanCancel(now, bookedAt, eventStart time.Time, loc *time.Location) bool {
	if now.Sub(bookedAt) > CancellationBookingGrace {
		return false
	}
	return now.Before(CancellationCutoff(eventStart, loc))
}
