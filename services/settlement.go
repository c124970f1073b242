package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetandmore-server/models"
	"meetandmore-server/queue"
	"meetandmore-server/utils"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settlement job topics. The webhook routes a captured payment to one of the
// first two depending on whether group formation already ran for the date.
const (
	TopicPaymentSuccess = "payment-success"
	TopicLatePayment    = "late-payment"
)

// PaymentJob is the payload of both payment-success and late-payment.
type PaymentJob struct {
	PaymentID   uint   `json:"paymentId"`
	UserID      uint   `json:"userId"`
	EventDateID uint   `json:"eventDateId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// SettlementService owns every write to Payment, Waitlist and Team. Each
// transition re-reads the entities inside the transaction that mutates them;
// no decision is made on a stale read.
type SettlementService struct {
	db            *gorm.DB
	broker        *queue.Broker
	refunds       *RefundService
	notifications *NotificationService
	referrals     *ReferralService
}

func NewSettlementService(db *gorm.DB, broker *queue.Broker, refunds *RefundService, notifications *NotificationService, referrals *ReferralService) *SettlementService {
	return &SettlementService{
		db:            db,
		broker:        broker,
		refunds:       refunds,
		notifications: notifications,
		referrals:     referrals,
	}
}

// HandlePaymentSuccess creates the waitlist entry for a captured payment made
// before the formation deadline. Re-delivery of the same job is absorbed by
// the (user, eventDate) uniqueness.
func (s *SettlementService) HandlePaymentSuccess(ctx context.Context, job PaymentJob) error {
	var user models.User
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, job.PaymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: payment %d not found", queue.ErrBadPayload, job.PaymentID)
			}
			return err
		}
		if payment.Status != models.PaymentPaid {
			log.WithFields(log.Fields{
				"payment_id": payment.ID,
				"status":     payment.Status,
			}).Info("Payment no longer paid, skipping waitlist creation")
			return nil
		}

		entry := models.Waitlist{
			UserID:      payment.UserID,
			EventDateID: payment.EventDateID,
			PaymentID:   payment.ID,
			Status:      models.WaitlistWaiting,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0

		return tx.First(&user, payment.UserID).Error
	})
	if err != nil {
		return err
	}
	if !created {
		log.WithFields(log.Fields{
			"user_id":       job.UserID,
			"event_date_id": job.EventDateID,
		}).Info("Waitlist entry already exists, duplicate delivery skipped")
		return nil
	}

	message := "Your Saturday dinner booking is confirmed. We'll match you with your group soon!"
	s.notify(ctx, user, models.NotifMessage, message, false, "Dinner booking confirmed", "booking_confirmed",
		map[string]interface{}{"name": user.Name})
	return nil
}

// AssignGroups is the main formation run for one event date. It confirms the
// matched users and creates their teams in one transaction, then refunds
// everyone left over.
func (s *SettlementService) AssignGroups(ctx context.Context, eventDateID uint) error {
	var (
		confirmed  []models.Waitlist
		unassigned []Participant
		teamCount  int
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []models.Waitlist
		if err := tx.
			Preload("User").Preload("Payment").
			Where("event_date_id = ? AND status = ?", eventDateID, models.WaitlistWaiting).
			Order("id ASC").
			Find(&entries).Error; err != nil {
			return fmt.Errorf("load waiting entries: %w", err)
		}

		var participants []Participant
		byWaitlist := make(map[uint]models.Waitlist, len(entries))
		for _, e := range entries {
			// Only entries whose payment is still paid at decision time take
			// part; anything else goes through the refund path (which will
			// no-op on non-paid statuses).
			if e.Payment.Status != models.PaymentPaid {
				log.WithFields(log.Fields{
					"waitlist_id": e.ID,
					"status":      e.Payment.Status,
				}).Warn("Waiting entry with non-paid payment excluded from formation")
				continue
			}
			if e.User.Gender != models.GenderMale && e.User.Gender != models.GenderFemale {
				unassigned = append(unassigned, Participant{WaitlistID: e.ID, UserID: e.UserID, Gender: e.User.Gender})
				continue
			}
			p := Participant{
				WaitlistID:  e.ID,
				UserID:      e.UserID,
				Gender:      e.User.Gender,
				DateOfBirth: e.User.DateOfBirth,
			}
			participants = append(participants, p)
			byWaitlist[e.ID] = e
		}

		teams, leftover, err := FormTeams(participants)
		if err != nil {
			return err
		}
		unassigned = append(unassigned, leftover...)

		for _, draft := range teams {
			team := models.Team{EventDateID: eventDateID, Status: models.TeamFormed}
			for _, m := range draft.Members {
				team.Members = append(team.Members, models.TeamMember{
					UserID:      m.UserID,
					Gender:      m.Gender,
					DateOfBirth: m.DateOfBirth,
				})
			}
			if err := tx.Create(&team).Error; err != nil {
				return fmt.Errorf("create team: %w", err)
			}

			var ids []uint
			for _, m := range draft.Members {
				ids = append(ids, m.WaitlistID)
				confirmed = append(confirmed, byWaitlist[m.WaitlistID])
			}
			if err := tx.Model(&models.Waitlist{}).
				Where("id IN ?", ids).
				Update("status", models.WaitlistConfirmed).Error; err != nil {
				return fmt.Errorf("confirm waitlist entries: %w", err)
			}
		}
		teamCount = len(teams)
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"event_date_id": eventDateID,
		"teams":         teamCount,
		"confirmed":     len(confirmed),
		"unassigned":    len(unassigned),
	}).Info("Group formation complete")

	for _, e := range confirmed {
		message := "Your dinner group is set! Check the app for details."
		s.notify(ctx, e.User, models.NotifMessage, message, false, "Your dinner group is ready", "group_assigned",
			map[string]interface{}{"name": e.User.Name})
	}

	// Refunds run after the commit; each is its own protocol with its own
	// transaction and gateway call.
	for _, p := range unassigned {
		var entry models.Waitlist
		if err := s.db.WithContext(ctx).First(&entry, p.WaitlistID).Error; err != nil {
			log.WithError(err).WithField("waitlist_id", p.WaitlistID).Error("Failed to reload unassigned entry")
			continue
		}
		if err := s.refunds.Refund(ctx, entry.PaymentID, "no suitable group"); err != nil {
			log.WithError(err).WithField("payment_id", entry.PaymentID).Error("Failed to refund unassigned user")
		}
	}
	return nil
}

// HandleLatePayment places a payment captured after the formation run into an
// existing team, or refunds it when nothing fits.
func (s *SettlementService) HandleLatePayment(ctx context.Context, job PaymentJob) error {
	var (
		user   models.User
		placed bool
		refund bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, job.PaymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: payment %d not found", queue.ErrBadPayload, job.PaymentID)
			}
			return err
		}
		if payment.Status != models.PaymentPaid {
			log.WithFields(log.Fields{
				"payment_id": payment.ID,
				"status":     payment.Status,
			}).Info("Late payment no longer paid, skipping")
			return nil
		}

		if err := tx.First(&user, payment.UserID).Error; err != nil {
			return err
		}

		entry := models.Waitlist{
			UserID:      payment.UserID,
			EventDateID: payment.EventDateID,
			PaymentID:   payment.ID,
			Status:      models.WaitlistWaiting,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
			return err
		}
		if entry.ID == 0 {
			if err := tx.Where("user_id = ? AND event_date_id = ?", payment.UserID, payment.EventDateID).
				First(&entry).Error; err != nil {
				return err
			}
			if entry.Status != models.WaitlistWaiting {
				log.WithField("waitlist_id", entry.ID).Info("Late payment already settled, skipping")
				placed = true
				return nil
			}
		}

		var teams []models.Team
		if err := tx.Preload("Members").
			Where("event_date_id = ? AND status = ?", payment.EventDateID, models.TeamFormed).
			Order("id ASC").
			Find(&teams).Error; err != nil {
			return fmt.Errorf("load formed teams: %w", err)
		}

		idx, err := FindTeamForLateArrival(teams, user.Gender)
		if err != nil {
			log.WithError(err).WithField("user_id", user.ID).Warn("Late arrival rejected by matcher, refunding")
			refund = true
			return nil
		}
		if idx < 0 {
			refund = true
			return nil
		}

		member := models.TeamMember{
			TeamID:      teams[idx].ID,
			UserID:      user.ID,
			Gender:      user.Gender,
			DateOfBirth: user.DateOfBirth,
		}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("append late member: %w", err)
		}
		if err := tx.Model(&entry).Update("status", models.WaitlistConfirmed).Error; err != nil {
			return err
		}
		placed = true
		return nil
	})
	if err != nil {
		return err
	}

	if refund {
		return s.refunds.Refund(ctx, job.PaymentID, "no suitable group for late booking")
	}
	if placed {
		message := "You're in! A dinner group had room for you."
		s.notify(ctx, user, models.NotifMessage, message, false, "Your dinner group is ready", "group_assigned",
			map[string]interface{}{"name": user.Name})
	}
	return nil
}

// VenueReveal sends every confirmed member their venue details and attendance
// link at noon on event day.
func (s *SettlementService) VenueReveal(ctx context.Context, eventDateID uint) error {
	var event models.EventDate
	if err := s.db.WithContext(ctx).Preload("City").First(&event, eventDateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: event date %d not found", queue.ErrBadPayload, eventDateID)
		}
		return err
	}

	var teams []models.Team
	if err := s.db.WithContext(ctx).
		Preload("Members").Preload("Members.User").
		Where("event_date_id = ? AND status = ?", eventDateID, models.TeamFormed).
		Find(&teams).Error; err != nil {
		return fmt.Errorf("load teams for reveal: %w", err)
	}

	for _, team := range teams {
		for _, m := range team.Members {
			data := map[string]interface{}{
				"name":           m.User.Name,
				"venueName":      event.City.VenueName,
				"venueAddress":   event.City.VenueAddress,
				"attendanceLink": fmt.Sprintf("/attendance/%d/%d", eventDateID, m.UserID),
			}
			s.notify(ctx, m.User, models.NotifMessage,
				fmt.Sprintf("Tonight's venue: %s, %s", event.City.VenueName, event.City.VenueAddress),
				false, "Your dinner venue is revealed", "venue_reveal", data)
		}
	}
	return nil
}

// CompleteEvent closes out an event date: confirmed entries become completed,
// follow-up prompts go out, and coupon-funded completions feed reward
// issuance.
func (s *SettlementService) CompleteEvent(ctx context.Context, eventDateID uint) error {
	var completed []models.Waitlist

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Preload("User").Preload("Payment").
			Where("event_date_id = ? AND status = ?", eventDateID, models.WaitlistConfirmed).
			Find(&completed).Error; err != nil {
			return fmt.Errorf("load confirmed entries: %w", err)
		}
		if len(completed) == 0 {
			return nil
		}

		var ids []uint
		for _, e := range completed {
			ids = append(ids, e.ID)
		}
		if err := tx.Model(&models.Waitlist{}).
			Where("id IN ?", ids).
			Update("status", models.WaitlistCompleted).Error; err != nil {
			return fmt.Errorf("complete waitlist entries: %w", err)
		}

		for _, e := range completed {
			rate := models.Notification{
				UserID:         e.UserID,
				Type:           models.NotifRateExp,
				Message:        "How was your dinner? Rate your experience.",
				RequiresAction: true,
			}
			again := models.Notification{
				UserID:  e.UserID,
				Type:    models.NotifAnotherDinner,
				Message: "Book your seat for next Saturday's dinner!",
			}
			if err := tx.Create(&rate).Error; err != nil {
				return err
			}
			if err := tx.Create(&again).Error; err != nil {
				return err
			}

			if err := s.referrals.RecordCompletedUsage(ctx, tx, e.Payment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range completed {
		if err := s.notifications.EnqueueEmail(ctx, []string{e.User.Email}, "Thanks for coming to dinner",
			"follow_up", map[string]interface{}{"name": e.User.Name}); err != nil {
			log.WithError(err).WithField("user_id", e.UserID).Error("Failed to enqueue follow-up email")
		}
	}

	log.WithFields(log.Fields{
		"event_date_id": eventDateID,
		"completed":     len(completed),
	}).Info("Event completed")
	return nil
}

// RecordCapture marks a payment paid on the gateway's capture callback and
// routes it to the main or late settlement path based on the formation
// deadline. Duplicate callbacks are absorbed by the paid status check.
func (s *SettlementService) RecordCapture(ctx context.Context, orderID, gatewayPaymentID string, formationRan func(event models.EventDate) bool) error {
	var payment models.Payment
	alreadyPaid := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("EventDate").Preload("EventDate.City").
			Where("order_id = ?", orderID).
			First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("unknown order %s", orderID)
			}
			return err
		}
		if payment.Status == models.PaymentPaid {
			alreadyPaid = true
			return nil
		}
		if payment.Status != models.PaymentCreated {
			if payment.Status == models.PaymentFailed && payment.FirstDinnerDiscount {
				// The discount flag is set before capture and not rolled back;
				// surface the failed capture so product can review the account.
				log.WithFields(log.Fields{
					"order_id":   orderID,
					"payment_id": payment.ID,
					"user_id":    payment.UserID,
				}).Warn("Capture callback for failed payment holding the first-dinner discount")
			}
			return fmt.Errorf("order %s in state %s cannot be captured", orderID, payment.Status)
		}

		if err := tx.Model(&payment).Updates(map[string]interface{}{
			"status":             models.PaymentPaid,
			"gateway_payment_id": gatewayPaymentID,
		}).Error; err != nil {
			return err
		}

		logRow := models.PaymentLog{
			PaymentID:   payment.ID,
			GatewayRef:  gatewayPaymentID,
			UserID:      payment.UserID,
			EventDateID: payment.EventDateID,
			Action:      models.LogActionCapture,
			Status:      models.LogSuccess,
			Amount:      payment.Amount,
			Currency:    payment.Currency,
		}
		return tx.Create(&logRow).Error
	})
	if err != nil {
		return err
	}
	if alreadyPaid {
		log.WithField("order_id", orderID).Info("Capture callback for already-paid order, skipping")
		return nil
	}

	topic := TopicPaymentSuccess
	if formationRan(payment.EventDate) {
		topic = TopicLatePayment
	}
	return s.broker.Enqueue(ctx, topic, PaymentJob{
		PaymentID:   payment.ID,
		UserID:      payment.UserID,
		EventDateID: payment.EventDateID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
	})
}

// notify writes the in-app row and queues email plus push for one user,
// logging rather than failing the settlement on side-effect errors.
func (s *SettlementService) notify(ctx context.Context, user models.User, notifType, message string, requiresAction bool, subject, template string, data map[string]interface{}) {
	if err := s.notifications.NotifyUser(ctx, user.ID, notifType, message, requiresAction); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to write notification row")
	}
	if user.Email != "" {
		if err := s.notifications.EnqueueEmail(ctx, []string{user.Email}, subject, template, data); err != nil {
			log.WithError(err).WithField("user_id", user.ID).Error("Failed to enqueue email")
		}
	}
	title := subject
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if err := s.notifications.EnqueuePushToUser(ctx, user, title, message, map[string]string{"type": notifType}); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to enqueue push")
	}
}

// FormationDeadlinePassed reports whether the main formation run for an event
// has already fired, deciding main-vs-late routing for fresh captures.
func FormationDeadlinePassed(event models.EventDate, now time.Time) bool {
	return now.After(utils.FormationDeadline(event.Date))
}
