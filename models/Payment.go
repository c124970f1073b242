package models

import (
	"time"

	"gorm.io/datatypes"
)

// Payment statuses. The progression is monotonic except for the explicit
// refund transition; refunded and canceled are terminal. RefundPending is a
// short-lived claim held while a refund attempt is in flight so concurrent
// actors cannot issue a second gateway refund.
const (
	PaymentCreated       = "created"
	PaymentPaid          = "paid"
	PaymentFailed        = "failed"
	PaymentCanceled      = "canceled"
	PaymentRefundPending = "refund_pending"
	PaymentRefunded      = "refunded"
)

type Payment struct {
	ID uint `json:"id" gorm:"primaryKey"`

	UserID uint `json:"userID" gorm:"not null;index:idx_user_created"`
	User   User `json:"user" gorm:"foreignKey:UserID"`

	EventDateID uint      `json:"eventDateID" gorm:"not null;index"`
	EventDate   EventDate `json:"eventDate" gorm:"foreignKey:EventDateID"`

	OrderID string `json:"orderID" gorm:"size:64;not null;uniqueIndex"`
	// GatewayPaymentID is the gateway's own reference (Razorpay pay_xxx),
	// assigned at capture.
	GatewayPaymentID string `json:"gatewayPaymentID" gorm:"size:64;uniqueIndex"`
	RefundID         string `json:"refundID" gorm:"size:64"`

	// Amount is in the smallest currency unit.
	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"size:8;not null"`

	Status string `json:"status" gorm:"size:16;not null;default:created;index"`

	CouponCode      string `json:"couponCode" gorm:"size:32"`
	DiscountApplied int64  `json:"discountApplied" gorm:"default:0"`
	// FirstDinnerDiscount is set optimistically before capture succeeds and is
	// deliberately not rolled back on a failed capture; see DESIGN.md.
	FirstDinnerDiscount bool `json:"firstDinnerDiscount" gorm:"default:false"`

	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_user_created,sort:desc"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentLog actions and statuses. Every refund attempt writes exactly one
// pending record before the gateway call and exactly one terminal record
// after; this is the audit trail used to spot duplicate attempts.
const (
	LogActionCapture = "capture"
	LogActionRefund  = "refund"
	LogActionFailure = "failure"

	LogPending = "pending"
	LogSuccess = "success"
	LogFailed  = "failed"
)

// PaymentLog is append-only.
type PaymentLog struct {
	ID uint `json:"id" gorm:"primaryKey"`

	PaymentID   uint   `json:"paymentID" gorm:"not null;index"`
	GatewayRef  string `json:"gatewayRef" gorm:"size:64;index"`
	UserID      uint   `json:"userID" gorm:"not null;index"`
	EventDateID uint   `json:"eventDateID" gorm:"not null"`

	Action string `json:"action" gorm:"size:16;not null"`
	Status string `json:"status" gorm:"size:16;not null"`

	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"size:8;not null"`

	GatewayResponse datatypes.JSON `json:"gatewayResponse"`
	Error           string         `json:"error" gorm:"size:512"`

	CreatedAt time.Time `json:"createdAt"`
}
