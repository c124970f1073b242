package utils

import (
	"testing"
	"time"
)

func TestUpcomingSaturdaysCountAndShape(t *testing.T) {
	loc := time.UTC
	// A Wednesday.
	now := time.Date(2026, time.September, 2, 10, 0, 0, 0, loc)

	dates := UpcomingSaturdays(now, loc, 3)
	if len(dates) != 3 {
		t.Fatalf("expected 3 dates, got %d", len(dates))
	}
	for _, d := range dates {
		if d.Weekday() != time.Saturday {
			t.Fatalf("%s is not a Saturday", d)
		}
		if d.Hour() != DinnerHour || d.Minute() != 0 {
			t.Fatalf("%s is not at %d:00", d, DinnerHour)
		}
		if !d.After(now) {
			t.Fatalf("%s not in the future", d)
		}
	}
	if dates[0].Day() != 5 {
		t.Fatalf("expected first Saturday Sept 5, got %s", dates[0])
	}
}

// On a Saturday morning, today still counts; after the registration cutoff it
// does not.
func TestUpcomingSaturdaysRegistrationCutoff(t *testing.T) {
	loc := time.UTC
	saturday := time.Date(2026, time.September, 5, 0, 0, 0, 0, loc)

	morning := saturday.Add(9 * time.Hour)
	dates := UpcomingSaturdays(morning, loc, 1)
	if dates[0].Day() != 5 {
		t.Fatalf("expected same-day Saturday before cutoff, got %s", dates[0])
	}

	afternoon := saturday.Add(13 * time.Hour)
	dates = UpcomingSaturdays(afternoon, loc, 1)
	if dates[0].Day() != 12 {
		t.Fatalf("expected next Saturday after cutoff, got %s", dates[0])
	}
}

func TestFormationDeadline(t *testing.T) {
	event := time.Date(2026, time.September, 5, 20, 0, 0, 0, time.UTC)
	want := time.Date(2026, time.September, 4, 20, 0, 0, 0, time.UTC)
	if got := FormationDeadline(event); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCancellationCutoff(t *testing.T) {
	loc := time.UTC
	event := time.Date(2026, time.September, 5, 20, 0, 0, 0, loc) // Saturday
	want := time.Date(2026, time.September, 4, 0, 1, 0, 0, loc)   // Friday 00:01
	if got := CancellationCutoff(event, loc); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanCancel(t *testing.T) {
	loc := time.UTC
	event := time.Date(2026, time.September, 5, 20, 0, 0, 0, loc)

	bookedAt := time.Date(2026, time.September, 1, 10, 0, 0, 0, loc)

	// Within 24h of booking and before the Friday cutoff.
	if !CanCancel(bookedAt.Add(2*time.Hour), bookedAt, event, loc) {
		t.Fatal("expected cancellation to be allowed")
	}

	// More than 24h after booking.
	if CanCancel(bookedAt.Add(25*time.Hour), bookedAt, event, loc) {
		t.Fatal("expected rejection past the booking grace period")
	}

	// Fresh booking but past the Friday cutoff.
	lateBooking := time.Date(2026, time.September, 4, 8, 0, 0, 0, loc)
	if CanCancel(lateBooking.Add(time.Hour), lateBooking, event, loc) {
		t.Fatal("expected rejection past the event-week cutoff")
	}
}
