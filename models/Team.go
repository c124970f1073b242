package models

import "time"

const (
	TeamFormed     = "formed"
	TeamIncomplete = "incomplete"
)

// Team is a fixed-size, gender-ratio-constrained dinner group for one event
// date. Members may be appended by the late-arrival path but never removed.
type Team struct {
	ID uint `json:"id" gorm:"primaryKey"`

	EventDateID uint      `json:"eventDateID" gorm:"not null;index"`
	EventDate   EventDate `json:"eventDate" gorm:"foreignKey:EventDateID"`

	Status  string       `json:"status" gorm:"size:16;not null;default:formed;index"`
	Members []TeamMember `json:"members" gorm:"foreignKey:TeamID"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TeamMember struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	TeamID uint `json:"teamID" gorm:"not null;index"`

	UserID uint `json:"userID" gorm:"not null;index"`
	User   User `json:"user" gorm:"foreignKey:UserID"`

	Gender      Gender     `json:"gender" gorm:"size:16;not null"`
	DateOfBirth *time.Time `json:"dateOfBirth"`

	CreatedAt time.Time `json:"createdAt"`
}

// GenderCount tallies the member split used by ratio checks.
func (t *Team) GenderCount() (males, females int) {
	for _, m := range t.Members {
		switch m.Gender {
		case GenderMale:
			males++
		case GenderFemale:
			females++
		}
	}
	return males, females
}
