package services

import (
	"context"
	"fmt"
	"time"

	"meetandmore-server/models"
	"meetandmore-server/scheduler"
	"meetandmore-server/utils"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// minFutureSaturdays is how many bookable Saturdays every active city must
// always have open.
const minFutureSaturdays = 3

// DateService keeps the rolling window of bookable Saturday dinners topped up.
type DateService struct {
	db    *gorm.DB
	sched *scheduler.Scheduler
	now   func() time.Time
}

func NewDateService(db *gorm.DB, sched *scheduler.Scheduler) *DateService {
	return &DateService{db: db, sched: sched, now: time.Now}
}

// EnsureFutureSaturdays upserts event dates so the city has at least three
// future bookable Saturdays, then registers scheduler tasks for each. Safe to
// run repeatedly; (city, date) is unique.
func (ds *DateService) EnsureFutureSaturdays(ctx context.Context, city models.VenueCity) error {
	loc, err := time.LoadLocation(city.Timezone)
	if err != nil {
		return fmt.Errorf("city %s has invalid timezone %q: %w", city.Name, city.Timezone, err)
	}

	for _, start := range utils.UpcomingSaturdays(ds.now(), loc, minFutureSaturdays) {
		event := models.EventDate{
			CityID:      city.ID,
			Date:        start,
			IsAvailable: true,
		}
		res := ds.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "city_id"}, {Name: "date"}},
				DoNothing: true,
			}).
			Create(&event)
		if res.Error != nil {
			return fmt.Errorf("upsert event date %s for city %s: %w", start, city.Name, res.Error)
		}
		if res.RowsAffected > 0 {
			log.WithFields(log.Fields{
				"city": city.Name,
				"date": start,
			}).Info("Opened new Saturday dinner date")
		} else {
			// Already exists; reload to get its ID for scheduling.
			if err := ds.db.WithContext(ctx).
				Where("city_id = ? AND date = ?", city.ID, start).
				First(&event).Error; err != nil {
				return fmt.Errorf("reload event date %s for city %s: %w", start, city.Name, err)
			}
		}

		if err := ds.sched.ScheduleEventTasks(ctx, event, city.Timezone); err != nil {
			return fmt.Errorf("schedule tasks for event date %d: %w", event.ID, err)
		}
	}
	return nil
}

// EnsureAllCities runs EnsureFutureSaturdays for every active city.
func (ds *DateService) EnsureAllCities(ctx context.Context) error {
	var cities []models.VenueCity
	if err := ds.db.WithContext(ctx).Where("active = ?", true).Find(&cities).Error; err != nil {
		return fmt.Errorf("load active cities: %w", err)
	}
	for _, city := range cities {
		if err := ds.EnsureFutureSaturdays(ctx, city); err != nil {
			log.WithError(err).WithField("city", city.Name).Error("Failed to ensure future dates")
		}
	}
	return nil
}
