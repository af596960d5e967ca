package common

import "time"

// User is a ledger participant as known to the user directory.
type User struct {
	ID           int64     `json:"id"`
	Address      string    `json:"address"`
	Username     string    `json:"username,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
