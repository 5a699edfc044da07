package domain

import (
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"
)

// offsetZone matches fixed offsets such as "GMT+1", "UTC-05:30".
var offsetZone = regexp.MustCompile(`^(?:GMT|UTC)([+-])(\d{1,2})(?::?(\d{2}))?$`)

// LoadTimezone resolves a fixed "GMT+N"/"UTC-N" offset (east of UTC is positive)
// or an IANA zone name. Anything else, including the empty string, resolves to UTC.
func LoadTimezone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	m := offsetZone.FindStringSubmatch(name)
	if m == nil {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
		return time.UTC
	}
	hours, _ := strconv.Atoi(m[2])
	mins := 0
	if m[3] != "" {
		mins, _ = strconv.Atoi(m[3])
	}
	if hours > 14 || mins > 59 {
		return time.UTC
	}
	offset := hours*3600 + mins*60
	if m[1] == "-" {
		offset = -offset
	}
	return time.FixedZone(name, offset)
}

// DaysBetween returns the number of calendar days from a to b as seen in loc.
// Negative when b falls on an earlier date than a.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
