package models

import "time"

// Waitlist statuses. waiting -> confirmed (team formed) or waiting -> canceled
// (refunded); confirmed -> completed after the event. completed is terminal
// and feeds reward issuance.
const (
	WaitlistWaiting   = "waiting"
	WaitlistConfirmed = "confirmed"
	WaitlistCanceled  = "canceled"
	WaitlistCompleted = "completed"
)

// Waitlist is a user's claim on one event date pending team assignment.
// One entry per (user, eventDate); created only once a payment is captured.
type Waitlist struct {
	ID uint `json:"id" gorm:"primaryKey"`

	UserID uint `json:"userID" gorm:"not null;index;uniqueIndex:idx_user_event"`
	User   User `json:"user" gorm:"foreignKey:UserID"`

	EventDateID uint      `json:"eventDateID" gorm:"not null;index:idx_event_status;uniqueIndex:idx_user_event"`
	EventDate   EventDate `json:"eventDate" gorm:"foreignKey:EventDateID"`

	PaymentID uint    `json:"paymentID" gorm:"not null;uniqueIndex"`
	Payment   Payment `json:"payment" gorm:"foreignKey:PaymentID"`

	Status string `json:"status" gorm:"size:16;not null;default:waiting;index:idx_event_status"`

	Attendance bool     `json:"attendance" gorm:"default:false"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
