package models

import "github.com/shopspring/decimal"

// Property is the read-only slice of a listing that booking decisions need.
type Property struct {
	ID            string          `json:"id"`
	HostID        string          `json:"host_id"`
	Title         string          `json:"title"`
	MaxGuests     int             `json:"max_guests"`
	IsActive      bool            `json:"is_active"`
	PricePerNight decimal.Decimal `json:"price_per_night"`
}
