package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

func ParseISOTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

func FormatDiscordRelativeTime(t time.Time) (s string) {
	return fmt.Sprintf("<t:%v:R>", t.Unix())
}

func FormatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())

	seconds, totalMinutes := totalSeconds%60, totalSeconds/60
	minutes, totalHours := totalMinutes%60, totalMinutes/60
	hours, days := totalHours%24, totalHours/24

	ret := ""
	if days != 0 {
		ret += strconv.Itoa(days) + "d "
	}
	if hours != 0 {
		ret += strconv.Itoa(hours) + "h "
	}
	if minutes != 0 {
		ret += strconv.Itoa(minutes) + "m "
	}
	if seconds != 0 {
		ret += strconv.Itoa(seconds) + "s"
	}

	return strings.TrimSpace(ret)
}

func ParseHexColor(s string) int {
	colorInt, _ := strconv.ParseInt(s, 16, 0)
	return int(colorInt)
}

// Truncate cuts s to at most maxRunes runes, ending it with an ellipsis when anything was cut.
func Truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 1 {
		return string(runes[:maxRunes])
	}

	return string(runes[:maxRunes-1]) + "…"
}
