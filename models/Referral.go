package models

import "time"

const (
	ReferralStandard = "standard"
	ReferralSpecial  = "special"

	ReferralActive   = "active"
	ReferralDisabled = "disabled"
)

// Referral is a coupon code whose usage count grows as coupon-funded bookings
// complete. Standard codes reward their owner every RewardAfterUsages uses;
// special codes are single-use promotions with no owner.
type Referral struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Code string `json:"code" gorm:"size:32;not null;uniqueIndex"`

	UserID *uint `json:"userID" gorm:"index"`
	User   *User `json:"user" gorm:"foreignKey:UserID"`

	Type   string `json:"type" gorm:"size:16;not null;default:standard"`
	Status string `json:"status" gorm:"size:16;not null;default:active;index"`

	UsageCount        int `json:"usageCount" gorm:"default:0"`
	RewardAfterUsages int `json:"rewardAfterUsages" gorm:"default:3"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reward is the per-currency payout configuration for a referral type.
type Reward struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	ReferralType string `json:"referralType" gorm:"size:16;not null;uniqueIndex:idx_type_currency"`
	Currency     string `json:"currency" gorm:"size:8;not null;uniqueIndex:idx_type_currency"`
	OwnerReward  int64  `json:"ownerReward" gorm:"not null"` // smallest currency unit

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
