package domain

import (
	"errors"
	"time"
)

// User is the per-user aggregate updated by session ingestion.
type User struct {
	ID                 string
	Timezone           string
	TotalCodingSeconds int64
	CurrentStreak      int
	LongestStreak      int
	LastSessionAt      *time.Time
	Languages          LanguageTotals
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New returns an empty aggregate for id.
func New(id string, now time.Time) *User {
	return &User{
		ID:        id,
		Timezone:  "UTC",
		Languages: LanguageTotals{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if u.TotalCodingSeconds < 0 {
		return errors.New("total coding seconds must not be negative")
	}
	if u.Languages == nil {
		u.Languages = LanguageTotals{}
	}
	return nil
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	cp := *u
	if u.LastSessionAt != nil {
		t := *u.LastSessionAt
		cp.LastSessionAt = &t
	}
	cp.Languages = make(LanguageTotals, len(u.Languages))
	for k, v := range u.Languages {
		cp.Languages[k] = v
	}
	return &cp
}

// ApplySession folds one recorded session into the aggregate.
//
// Streak: the calendar dates of startedAt and the previous session are compared
// in the user's timezone. Same day leaves the streak unchanged, the next day
// increments it, a gap of two or more days resets it to 1. The first ever
// session sets it to 1. A session dated before the previous one only adds totals.
func (u *User) ApplySession(startedAt time.Time, durationSec int64, deltas LanguageTotals, now time.Time) {
	if durationSec > 0 {
		u.TotalCodingSeconds = addSeconds(u.TotalCodingSeconds, durationSec)
	}

	if u.LastSessionAt == nil {
		u.CurrentStreak = 1
		u.setLastSession(startedAt)
	} else {
		loc := LoadTimezone(u.Timezone)
		switch days := DaysBetween(*u.LastSessionAt, startedAt, loc); {
		case days < 0:
			// out-of-order submission
		case days == 0:
			u.setLastSession(startedAt)
		case days == 1:
			u.CurrentStreak++
			u.setLastSession(startedAt)
		default:
			u.CurrentStreak = 1
			u.setLastSession(startedAt)
		}
	}
	if u.CurrentStreak > u.LongestStreak {
		u.LongestStreak = u.CurrentStreak
	}

	if u.Languages == nil {
		u.Languages = LanguageTotals{}
	}
	for lang, secs := range deltas {
		if secs > 0 && lang.Valid() {
			u.Languages[lang] = addSeconds(u.Languages[lang], secs)
		}
	}
	u.UpdatedAt = now
}

func (u *User) setLastSession(t time.Time) {
	if u.LastSessionAt != nil && t.Before(*u.LastSessionAt) {
		return
	}
	t = t.UTC()
	u.LastSessionAt = &t
}
