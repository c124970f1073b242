package models

import "time"

// Notification types written by the settlement pipeline.
const (
	NotifMessage       = "message"
	NotifRateExp       = "rateExp"
	NotifAnotherDinner = "anotherDinner"
)

// Notification is an in-app notification row, written alongside the email and
// push jobs so the client can render history.
type Notification struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	UserID uint `json:"userID" gorm:"not null;index"`
	User   User `json:"user" gorm:"foreignKey:UserID"`

	Type    string `json:"type" gorm:"size:32;not null;index"`
	Message string `json:"message" gorm:"size:500;not null"`

	RequiresAction bool `json:"requiresAction" gorm:"default:false"`

	IsRead    bool       `json:"isRead" gorm:"default:false"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt"`
}
