package models

import "time"

// Profile is a saved browser user-data directory
type Profile struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
	DataPath  string    `json:"-"` // Path to the archive (internal only)
}
