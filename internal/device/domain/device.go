package domain

import "time"

// Device is the advisory last-seen record of an editor installation. It is
// never consulted for authorization.
type Device struct {
	DeviceID   string
	UserID     string
	LastSeenAt time.Time
	LastIPHash string
	UserAgent  string
	CreatedAt  time.Time
}

// MaxDeviceIDLength bounds client-chosen device ids.
const MaxDeviceIDLength = 128
