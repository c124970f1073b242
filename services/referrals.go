package services

import (
	"context"
	"errors"
	"fmt"

	"meetandmore-server/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReferralService issues coupon rewards once coupon-funded bookings complete.
type ReferralService struct {
	notifications *NotificationService
}

func NewReferralService(notifications *NotificationService) *ReferralService {
	return &ReferralService{notifications: notifications}
}

// RecordCompletedUsage bumps the coupon's usage count inside the caller's
// transaction and, when a standard code crosses its reward threshold, notifies
// the code owner. Special codes are one-shot and get disabled on use. An
// unknown code is logged and skipped, not an error; the dinner already
// happened.
func (rs *ReferralService) RecordCompletedUsage(ctx context.Context, tx *gorm.DB, payment models.Payment) error {
	if payment.CouponCode == "" {
		return nil
	}

	var ref models.Referral
	err := tx.Where("code = ?", payment.CouponCode).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.WithFields(log.Fields{
			"coupon_code": payment.CouponCode,
			"payment_id":  payment.ID,
		}).Warn("Completed payment references unknown coupon code")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load referral %q: %w", payment.CouponCode, err)
	}

	ref.UsageCount++
	if ref.Type == models.ReferralSpecial {
		ref.Status = models.ReferralDisabled
	}
	if err := tx.Save(&ref).Error; err != nil {
		return fmt.Errorf("update referral %q: %w", ref.Code, err)
	}

	if ref.Type != models.ReferralStandard || ref.UserID == nil || ref.RewardAfterUsages <= 0 {
		return nil
	}
	if ref.UsageCount%ref.RewardAfterUsages != 0 {
		return nil
	}

	var reward models.Reward
	err = tx.Where("referral_type = ? AND currency = ?", ref.Type, payment.Currency).First(&reward).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.WithFields(log.Fields{
			"referral_type": ref.Type,
			"currency":      payment.Currency,
		}).Warn("No reward configured for referral type and currency")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reward config: %w", err)
	}

	message := fmt.Sprintf("Your code %s has been used %d times. A reward of %d %s is on its way!",
		ref.Code, ref.UsageCount, reward.OwnerReward, payment.Currency)
	notif := models.Notification{UserID: *ref.UserID, Type: models.NotifMessage, Message: message}
	if err := tx.Create(&notif).Error; err != nil {
		return fmt.Errorf("create reward notification: %w", err)
	}

	var owner models.User
	if err := tx.First(&owner, *ref.UserID).Error; err != nil {
		return fmt.Errorf("load referral owner %d: %w", *ref.UserID, err)
	}
	if err := rs.notifications.EnqueueEmail(ctx, []string{owner.Email}, "You earned a referral reward",
		"referral_reward", map[string]interface{}{
			"name":     owner.Name,
			"code":     ref.Code,
			"reward":   reward.OwnerReward,
			"currency": payment.Currency,
		}); err != nil {
		return err
	}

	// Payouts are manual; the operator needs to know one is due.
	return rs.notifications.AlertOperator(ctx, "Referral reward due", map[string]interface{}{
		"code":        ref.Code,
		"owner_email": owner.Email,
		"reward":      reward.OwnerReward,
		"currency":    payment.Currency,
		"usage_count": ref.UsageCount,
	})
}
