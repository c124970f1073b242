package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeadLetterLog records a job that exhausted its retry budget. Write-once,
// read by operators.
type DeadLetterLog struct {
	ID uint `json:"id" gorm:"primaryKey"`

	QueueName       string         `json:"queueName" gorm:"size:64;not null;index"`
	OriginalPayload datatypes.JSON `json:"originalPayload" gorm:"not null"`
	Error           string         `json:"error" gorm:"size:1024;not null"`
	Stack           string         `json:"stack" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}
