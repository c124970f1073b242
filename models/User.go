package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// User carries only what the settlement pipeline reads; registration, auth
// and profile editing live in the account service.
type User struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	Name  string `json:"name" gorm:"size:120"`
	Email string `json:"email" gorm:"size:255;not null;index"`

	Gender      Gender     `json:"gender" gorm:"size:16;not null"`
	DateOfBirth *time.Time `json:"dateOfBirth"`

	PushTokens          datatypes.JSON `json:"pushTokens"`
	AllowsNotifications *bool          `json:"allowsNotifications"`

	WorkingIndustry string `json:"workingIndustry" gorm:"size:80"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PushTokenList decodes the stored token array. Nil or malformed data yields
// an empty list rather than an error; a user without tokens is simply skipped.
func (u *User) PushTokenList() []string {
	if u.PushTokens == nil || u.AllowsNotifications == nil || !*u.AllowsNotifications {
		return nil
	}
	var tokens []string
	if err := json.Unmarshal(u.PushTokens, &tokens); err != nil {
		return nil
	}
	return tokens
}
