package models

import "time"

// VenueCity is the timezone authority for every schedule computation and
// carries the venue revealed to attendees at noon on event day.
type VenueCity struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"size:80;not null;uniqueIndex"`
	Timezone string `json:"timezone" gorm:"size:64;not null"` // IANA name, e.g. Asia/Kolkata

	VenueName    string `json:"venueName" gorm:"size:120"`
	VenueAddress string `json:"venueAddress" gorm:"size:255"`
	Active       bool   `json:"active" gorm:"default:true;index"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EventDate is one bookable Saturday dinner in one city. Date is the absolute
// instant of the 20:00 local start; only IsAvailable is ever mutated.
type EventDate struct {
	ID     uint      `json:"id" gorm:"primaryKey"`
	CityID uint      `json:"cityID" gorm:"not null;index;uniqueIndex:idx_city_date"`
	City   VenueCity `json:"city" gorm:"foreignKey:CityID"`

	Date        time.Time `json:"date" gorm:"not null;index;uniqueIndex:idx_city_date"`
	IsAvailable bool      `json:"isAvailable" gorm:"default:true"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
