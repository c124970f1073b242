package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meetandmore-server/models"
	"meetandmore-server/queue"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Topics fired by event lifecycle tasks.
const (
	TopicGroupAssignment = "group-assignment"
	TopicVenueReveal     = "venue-reveal"
	TopicFollowUp        = "follow-up"
)

// TaskPayload is the job carried by every lifecycle topic.
type TaskPayload struct {
	EventDateID uint   `json:"eventDateId"`
	Timezone    string `json:"timezone"`
}

// marker is the persisted "already scheduled" record. It is the durable
// source of truth; the in-memory timer is advisory.
type marker struct {
	EventDateID uint      `json:"eventDateId"`
	Task        string    `json:"task"`
	Timezone    string    `json:"timezone"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

type taskDef struct {
	name  string
	topic string
	// fireAt derives the wall-clock fire instant from the event's local time.
	fireAt func(eventLocal time.Time) time.Time
}

// Lifecycle offsets: group formation a day before the dinner, venue reveal at
// noon on event day, follow-up at 23:59 event day.
var tasks = []taskDef{
	{
		name:   "group-formation",
		topic:  TopicGroupAssignment,
		fireAt: func(ev time.Time) time.Time { return ev.Add(-24 * time.Hour) },
	},
	{
		name:  "venue-reveal",
		topic: TopicVenueReveal,
		fireAt: func(ev time.Time) time.Time {
			return time.Date(ev.Year(), ev.Month(), ev.Day(), 12, 0, 0, 0, ev.Location())
		},
	},
	{
		name:  "follow-up",
		topic: TopicFollowUp,
		fireAt: func(ev time.Time) time.Time {
			return time.Date(ev.Year(), ev.Month(), ev.Day(), 23, 59, 0, 0, ev.Location())
		},
	},
}

func markerKey(task string, eventDateID uint) string {
	return fmt.Sprintf("cron:%s:%d", task, eventDateID)
}

func lockKey(task string, eventDateID uint) string {
	return fmt.Sprintf("lock:cron:%d:%s", eventDateID, task)
}

// Scheduler registers per-event lifecycle tasks so that exactly one running
// instance fires each of them. Registration is serialized by a short-TTL lock
// and deduplicated by a persisted marker; restarts are recovered by Sweep.
type Scheduler struct {
	db     *gorm.DB
	rdb    *redis.Client
	broker *queue.Broker
	lock   *Lock

	lockTTL   time.Duration
	markerTTL time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	// now is swappable for tests.
	now func() time.Time
}

func New(db *gorm.DB, rdb *redis.Client, broker *queue.Broker, lockTTL, markerTTL time.Duration) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	if markerTTL <= 0 {
		markerTTL = 7 * 24 * time.Hour
	}
	return &Scheduler{
		db:        db,
		rdb:       rdb,
		broker:    broker,
		lock:      NewLock(rdb),
		lockTTL:   lockTTL,
		markerTTL: markerTTL,
		timers:    make(map[string]*time.Timer),
		now:       time.Now,
	}
}

// ScheduleEventTasks registers the three lifecycle tasks for one event date.
// Lock contention and already-present markers are skips; tasks whose fire
// instant already passed are skipped, never back-filled.
func (s *Scheduler) ScheduleEventTasks(ctx context.Context, event models.EventDate, timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	eventLocal := event.Date.In(loc)

	for _, task := range tasks {
		if err := s.scheduleOne(ctx, event.ID, timezone, task, task.fireAt(eventLocal)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) scheduleOne(ctx context.Context, eventDateID uint, timezone string, task taskDef, fireAt time.Time) error {
	logCtx := log.WithFields(log.Fields{
		"task":          task.name,
		"event_date_id": eventDateID,
	})

	lk := lockKey(task.name, eventDateID)
	acquired, err := s.lock.TryAcquire(ctx, lk, s.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire scheduling lock: %w", err)
	}
	if !acquired {
		logCtx.Debug("Another instance is scheduling this task, skipping")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx, lk); err != nil {
			logCtx.WithError(err).Warn("Failed to release scheduling lock")
		}
	}()

	mk := markerKey(task.name, eventDateID)
	exists, err := s.rdb.Exists(ctx, mk).Result()
	if err != nil {
		return fmt.Errorf("check marker: %w", err)
	}
	if exists > 0 {
		logCtx.Debug("Task already scheduled")
		return nil
	}

	if !fireAt.After(s.now()) {
		logCtx.WithField("fire_at", fireAt).Info("Task fire time already passed, skipping")
		return nil
	}

	raw, err := json.Marshal(marker{
		EventDateID: eventDateID,
		Task:        task.name,
		Timezone:    timezone,
		ScheduledAt: fireAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}

	s.registerTimer(eventDateID, timezone, task, fireAt)

	// Marker persistence failure after timer registration leaves a duplicate
	// risk bounded by the lock; the sweep will converge it.
	if err := s.rdb.Set(ctx, mk, raw, s.markerTTL).Err(); err != nil {
		logCtx.WithError(err).Warn("Failed to persist scheduling marker")
	}

	logCtx.WithField("fire_at", fireAt).Info("Scheduled event task")
	return nil
}

func timerKey(task string, eventDateID uint) string {
	return fmt.Sprintf("%s:%d", task, eventDateID)
}

func (s *Scheduler) registerTimer(eventDateID uint, timezone string, task taskDef, fireAt time.Time) {
	tk := timerKey(task.name, eventDateID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[tk]; ok {
		old.Stop()
	}
	s.timers[tk] = time.AfterFunc(time.Until(fireAt), func() {
		s.fire(eventDateID, timezone, task)
	})
}

func (s *Scheduler) fire(eventDateID uint, timezone string, task taskDef) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logCtx := log.WithFields(log.Fields{
		"task":          task.name,
		"event_date_id": eventDateID,
	})

	if err := s.broker.Enqueue(ctx, task.topic, TaskPayload{
		EventDateID: eventDateID,
		Timezone:    timezone,
	}); err != nil {
		// Keep the marker so the sweep can retry registration later.
		logCtx.WithError(err).Error("Failed to enqueue scheduled task")
		return
	}

	if err := s.rdb.Del(ctx, markerKey(task.name, eventDateID)).Err(); err != nil {
		logCtx.WithError(err).Warn("Failed to delete scheduling marker")
	}

	s.mu.Lock()
	delete(s.timers, timerKey(task.name, eventDateID))
	s.mu.Unlock()

	logCtx.Info("Scheduled task fired")
}

// HasTimer reports whether this instance holds a live timer for the task.
func (s *Scheduler) HasTimer(task string, eventDateID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[timerKey(task, eventDateID)]
	return ok
}

// Sweep reconciles persisted markers with local timers: stale markers (fire
// time passed without a registered timer) are deleted, and future markers
// lost to a process restart get their timer re-registered.
func (s *Scheduler) Sweep(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, "cron:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				log.WithError(err).WithField("key", key).Warn("Failed to read marker during sweep")
			}
			continue
		}

		var m marker
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.WithError(err).WithField("key", key).Warn("Dropping undecodable marker")
			s.rdb.Del(ctx, key)
			continue
		}

		if !m.ScheduledAt.After(s.now()) {
			// Fired (or missed) already; never back-filled.
			s.rdb.Del(ctx, key)
			s.stopTimer(m.Task, m.EventDateID)
			continue
		}

		if !s.HasTimer(m.Task, m.EventDateID) {
			s.recoverMarker(ctx, m)
		}
	}
	return iter.Err()
}

func (s *Scheduler) stopTimer(task string, eventDateID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk := timerKey(task, eventDateID)
	if t, ok := s.timers[tk]; ok {
		t.Stop()
		delete(s.timers, tk)
	}
}

// recoverMarker re-derives the fire time from the EventDate row and registers
// a local timer for a marker that survived a restart.
func (s *Scheduler) recoverMarker(ctx context.Context, m marker) {
	var event models.EventDate
	if err := s.db.WithContext(ctx).First(&event, m.EventDateID).Error; err != nil {
		log.WithError(err).WithField("event_date_id", m.EventDateID).Warn("Marker references missing event date, dropping")
		s.rdb.Del(ctx, markerKey(m.Task, m.EventDateID))
		return
	}

	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", m.Timezone).Warn("Marker carries unknown timezone, dropping")
		s.rdb.Del(ctx, markerKey(m.Task, m.EventDateID))
		return
	}

	for _, task := range tasks {
		if task.name != m.Task {
			continue
		}
		fireAt := task.fireAt(event.Date.In(loc))
		if fireAt.After(s.now()) {
			s.registerTimer(m.EventDateID, m.Timezone, task, fireAt)
			log.WithFields(log.Fields{
				"task":          m.Task,
				"event_date_id": m.EventDateID,
				"fire_at":       fireAt,
			}).Info("Recovered scheduled task after restart")
		}
		return
	}
}

// Run re-registers tasks for all future event dates at startup, then sweeps
// periodically.
func (s *Scheduler) Run(ctx context.Context, sweepEvery time.Duration) {
	if sweepEvery <= 0 {
		sweepEvery = 24 * time.Hour
	}
	go func() {
		if err := s.ScheduleUpcoming(ctx); err != nil {
			log.WithError(err).Error("Failed to schedule upcoming event tasks")
		}
		if err := s.Sweep(ctx); err != nil {
			log.WithError(err).Error("Scheduler sweep failed")
		}

		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.ScheduleUpcoming(ctx); err != nil {
					log.WithError(err).Error("Failed to schedule upcoming event tasks")
				}
				if err := s.Sweep(ctx); err != nil {
					log.WithError(err).Error("Scheduler sweep failed")
				}
			}
		}
	}()
}

// ScheduleUpcoming walks available future event dates and registers their
// lifecycle tasks.
func (s *Scheduler) ScheduleUpcoming(ctx context.Context) error {
	var events []models.EventDate
	if err := s.db.WithContext(ctx).
		Preload("City").
		Where("is_available = ? AND date > ?", true, s.now().Add(-24*time.Hour)).
		Find(&events).Error; err != nil {
		return fmt.Errorf("load upcoming event dates: %w", err)
	}

	for _, event := range events {
		if event.City.Timezone == "" {
			log.WithField("event_date_id", event.ID).Warn("Event date has no city timezone, skipping")
			continue
		}
		if err := s.ScheduleEventTasks(ctx, event, event.City.Timezone); err != nil {
			log.WithError(err).WithField("event_date_id", event.ID).Error("Failed to schedule event tasks")
		}
	}
	return nil
}
