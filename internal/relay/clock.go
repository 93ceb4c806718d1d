package relay

import "fmt"

// MinutesPerDay is the length of one schedule cycle.
const MinutesPerDay = 24 * 60

// ParseClock parses a strict two-digit "HH:MM" time of day and returns
// minutes since midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// FormatClock renders minutes as "HH:MM", wrapping into a single day.
// Negative values wrap backwards past midnight.
func FormatClock(minutes int) string {
	m := ((minutes % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// AdjustTime adds deltaMinutes to a time of day and wraps the result into
// 00:00..23:59. An empty time is treated as 00:00.
//
// Examples:
//
//	AdjustTime("00:10", -30) // "23:40"
//	AdjustTime("23:50", 30)  // "00:20"
func AdjustTime(clock string, deltaMinutes int) (string, error) {
	base := 0
	if clock != "" {
		var err error
		if base, err = ParseClock(clock); err != nil {
			return "", err
		}
	}
	return FormatClock(base + deltaMinutes), nil
}

// validClockOrEmpty accepts "" (unset) or a valid HH:MM value.
func validClockOrEmpty(s string) error {
	if s == "" {
		return nil
	}
	_, err := ParseClock(s)
	return err
}
