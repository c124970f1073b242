package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetandmore-server/models"
	"meetandmore-server/queue"
	"meetandmore-server/utils"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// gatewayStatusSettled is the gateway payment state past which an automated
// refund is no longer possible and an operator must step in.
const gatewayStatusSettled = "settled"

// ManualRefundReason is the audit-log reason written when a refund target is
// already settled.
const ManualRefundReason = "requires manual refund"

// ErrCancellationWindowClosed is returned to user-initiated cancellations
// outside the allowed window.
var ErrCancellationWindowClosed = errors.New("cancellation window closed")

// RefundService wraps the payment gateway with the refund protocol: status
// verification before action, a fresh idempotency token per attempt, and
// escalation instead of retry on settlement conflicts.
type RefundService struct {
	db            *gorm.DB
	broker        *queue.Broker
	gateway       PaymentGateway
	notifications *NotificationService
	now           func() time.Time
}

func NewRefundService(db *gorm.DB, broker *queue.Broker, gateway PaymentGateway, notifications *NotificationService) *RefundService {
	return &RefundService{
		db:            db,
		broker:        broker,
		gateway:       gateway,
		notifications: notifications,
		now:           time.Now,
	}
}

// Refund runs the full protocol for one payment. A payment that is no longer
// `paid` is a no-op detected before any gateway call, and a conditional claim
// on the `paid` status stops two concurrent callers from both reaching the
// gateway; a `settled` gateway state or a gateway error terminates in
// escalation, never in a retry. The returned error is nil on every terminal
// outcome so queue workers do not re-run a path where a duplicate call costs
// money.
func (r *RefundService) Refund(ctx context.Context, paymentID uint, reason string) error {
	var payment models.Payment
	err := r.db.WithContext(ctx).Preload("User").First(&payment, paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: payment %d not found", queue.ErrBadPayload, paymentID)
	}
	if err != nil {
		return fmt.Errorf("load payment %d: %w", paymentID, err)
	}

	logCtx := log.WithFields(log.Fields{
		"payment_id": payment.ID,
		"user_id":    payment.UserID,
		"reason":     reason,
	})

	if payment.Status != models.PaymentPaid {
		logCtx.WithField("status", payment.Status).Info("Payment not refundable, skipping")
		return nil
	}

	// Claim the payment before touching the gateway. A concurrent caller that
	// passed the same status check loses the conditional update and stops here
	// instead of issuing a second refund under its own idempotency key.
	claim := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentPaid).
		Update("status", models.PaymentRefundPending)
	if claim.Error != nil {
		return fmt.Errorf("claim payment %d for refund: %w", payment.ID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		logCtx.Info("Payment claimed by a concurrent refund, skipping")
		return nil
	}

	r.appendLog(ctx, payment, models.LogActionRefund, models.LogPending, nil, "")

	// A fresh token per attempt; duplicate physical retries of the same
	// attempt are deduplicated by the gateway on this key.
	idempotencyKey := uuid.NewString()

	gp, err := r.gateway.FetchPayment(ctx, payment.GatewayPaymentID)
	if err != nil {
		r.release(ctx, payment.ID)
		r.escalate(ctx, payment, fmt.Errorf("fetch gateway status: %w", err))
		return nil
	}

	if gp.Status == gatewayStatusSettled {
		logCtx.Warn("Payment already settled at gateway, requires manual refund")
		r.release(ctx, payment.ID)
		r.appendLog(ctx, payment, models.LogActionRefund, models.LogFailed, datatypes.JSON(gp.Raw), ManualRefundReason)
		r.reportConflict(ctx, payment, errors.New(ManualRefundReason))
		return nil
	}

	refundAmount := payment.Amount - payment.DiscountApplied
	rf, err := r.gateway.Refund(ctx, payment.GatewayPaymentID, refundAmount, idempotencyKey)
	if err != nil {
		r.release(ctx, payment.ID)
		r.escalate(ctx, payment, fmt.Errorf("gateway refund: %w", err))
		return nil
	}

	var user models.User
	claimLost := false
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read inside the transaction; no decision on a stale status.
		var current models.Payment
		if err := tx.First(&current, payment.ID).Error; err != nil {
			return err
		}
		if current.Status != models.PaymentRefundPending {
			log.WithField("payment_id", current.ID).Warn("Payment changed state mid-refund, skipping writes")
			claimLost = true
			return nil
		}

		if err := tx.Model(&current).Updates(map[string]interface{}{
			"status":    models.PaymentRefunded,
			"refund_id": rf.ID,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Waitlist{}).
			Where("payment_id = ?", current.ID).
			Update("status", models.WaitlistCanceled).Error; err != nil {
			return err
		}

		logRow := r.buildLog(payment, models.LogActionRefund, models.LogSuccess, datatypes.JSON(rf.Raw), "")
		logRow.GatewayRef = rf.ID
		if err := tx.Create(&logRow).Error; err != nil {
			return err
		}
		return tx.First(&user, payment.UserID).Error
	})
	if txErr != nil {
		// The gateway refund went through but our records did not; this needs
		// eyes, not a second refund call. The claim stays in place so no later
		// attempt re-refunds before the operator resolves it.
		r.escalate(ctx, payment, fmt.Errorf("persist refund outcome: %w", txErr))
		return nil
	}
	if claimLost {
		return nil
	}

	logCtx.WithField("refund_id", rf.ID).Info("Refund issued")
	r.notifyRefunded(ctx, user, payment, reason)
	return nil
}

// release hands the claim back so the payment reads `paid` again; used on
// escalation paths where no gateway refund was issued.
func (r *RefundService) release(ctx context.Context, paymentID uint) {
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentRefundPending).
		Update("status", models.PaymentPaid).Error
	if err != nil {
		log.WithError(err).WithField("payment_id", paymentID).Error("Failed to release refund claim")
	}
}

// CancelBooking is the user-initiated path: eligibility check against
// event-local time, then the standard protocol.
func (r *RefundService) CancelBooking(ctx context.Context, userID, eventDateID uint) error {
	var entry models.Waitlist
	err := r.db.WithContext(ctx).
		Preload("EventDate").Preload("EventDate.City").
		Where("user_id = ? AND event_date_id = ?", userID, eventDateID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no booking for user %d on event date %d", userID, eventDateID)
	}
	if err != nil {
		return err
	}

	if entry.Status == models.WaitlistCanceled {
		return nil
	}

	loc, err := time.LoadLocation(entry.EventDate.City.Timezone)
	if err != nil {
		return fmt.Errorf("load event timezone: %w", err)
	}
	if !utils.CanCancel(r.now(), entry.CreatedAt, entry.EventDate.Date, loc) {
		return ErrCancellationWindowClosed
	}

	return r.Refund(ctx, entry.PaymentID, "user cancellation")
}

// escalate records a gateway failure: failed audit log, dead-letter record,
// operator alert. Nothing here retries.
func (r *RefundService) escalate(ctx context.Context, payment models.Payment, cause error) {
	log.WithError(cause).WithField("payment_id", payment.ID).Error("Refund failed, escalating to operator")
	r.appendLog(ctx, payment, models.LogActionRefund, models.LogFailed, nil, cause.Error())
	r.reportConflict(ctx, payment, cause)
}

func (r *RefundService) reportConflict(ctx context.Context, payment models.Payment, cause error) {
	original := map[string]interface{}{
		"paymentId":   payment.ID,
		"userId":      payment.UserID,
		"eventDateId": payment.EventDateID,
		"amount":      payment.Amount,
		"currency":    payment.Currency,
	}
	if err := r.broker.ReportFailure(ctx, "refund", original, cause); err != nil {
		log.WithError(err).Error("Failed to file refund dead-letter record")
	}
	if err := r.notifications.AlertOperator(ctx, "Refund requires attention", map[string]interface{}{
		"paymentId": payment.ID,
		"userId":    payment.UserID,
		"error":     cause.Error(),
	}); err != nil {
		log.WithError(err).Error("Failed to enqueue operator alert")
	}
}

func (r *RefundService) buildLog(payment models.Payment, action, status string, gatewayResponse datatypes.JSON, errMsg string) models.PaymentLog {
	return models.PaymentLog{
		PaymentID:       payment.ID,
		GatewayRef:      payment.GatewayPaymentID,
		UserID:          payment.UserID,
		EventDateID:     payment.EventDateID,
		Action:          action,
		Status:          status,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		GatewayResponse: gatewayResponse,
		Error:           errMsg,
	}
}

func (r *RefundService) appendLog(ctx context.Context, payment models.Payment, action, status string, gatewayResponse datatypes.JSON, errMsg string) {
	row := r.buildLog(payment, action, status, gatewayResponse, errMsg)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.WithError(err).WithField("payment_id", payment.ID).Error("Failed to append payment log")
	}
}

func (r *RefundService) notifyRefunded(ctx context.Context, user models.User, payment models.Payment, reason string) {
	message := "Your dinner booking has been refunded."
	if err := r.notifications.NotifyUser(ctx, user.ID, models.NotifMessage, message, false); err != nil {
		log.WithError(err).Error("Failed to write refund notification")
	}
	if err := r.notifications.EnqueueEmail(ctx, []string{user.Email}, "Your booking was refunded", "refund_issued",
		map[string]interface{}{
			"name":     user.Name,
			"amount":   payment.Amount - payment.DiscountApplied,
			"currency": payment.Currency,
			"reason":   reason,
		}); err != nil {
		log.WithError(err).Error("Failed to enqueue refund email")
	}
	if err := r.notifications.EnqueuePushToUser(ctx, user, "Booking refunded", message, map[string]string{
		"type": "refund",
	}); err != nil {
		log.WithError(err).Error("Failed to enqueue refund push")
	}
}
