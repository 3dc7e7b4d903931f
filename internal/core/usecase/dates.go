package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDatePattern    = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	koreanDatePattern = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)
	monthDayPattern   = regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`)
	clockPattern      = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// normalizeDate rewrites a date expression to YYYY-MM-DD. Recognized forms
// are ISO-ish dates, full Korean dates, and month-day Korean dates which
// borrow the year from now. Unrecognized input comes back unchanged with
// ok=false so callers can still compare raw strings.
func normalizeDate(s string, now time.Time) (string, bool) {
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		return formatDate(m[1], m[2], m[3]), true
	}
	if m := koreanDatePattern.FindStringSubmatch(s); m != nil {
		return formatDate(m[1], m[2], m[3]), true
	}
	if m := monthDayPattern.FindStringSubmatch(s); m != nil {
		return formatDate(strconv.Itoa(now.Year()), m[1], m[2]), true
	}
	return s, false
}

func formatDate(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// dayOfWeekOf returns the lowercase English weekday for a normalized
// YYYY-MM-DD date, or "" when the date does not parse.
func dayOfWeekOf(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	return strings.ToLower(t.Weekday().String())
}

// sameDay reports whether two date expressions refer to the same calendar
// day after normalization. Unparseable values fall back to a raw string
// comparison.
func sameDay(a, b string, now time.Time) bool {
	na, _ := normalizeDate(a, now)
	nb, _ := normalizeDate(b, now)
	return na == nb
}

// partialDayMatch reports whether the month-day suffixes of two normalized
// dates agree while the full dates do not.
func partialDayMatch(a, b string, now time.Time) bool {
	na, oka := normalizeDate(a, now)
	nb, okb := normalizeDate(b, now)
	if !oka || !okb || na == nb {
		return false
	}
	return monthDaySuffix(na) == monthDaySuffix(nb)
}

func monthDaySuffix(date string) string {
	if i := strings.IndexByte(date, '-'); i >= 0 {
		return date[i+1:]
	}
	return date
}

// normalizeClock extracts the first HH:MM expression from s, zero-padding
// the hour. Returns "" when no clock time is present.
func normalizeClock(s string) string {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	h, _ := strconv.Atoi(m[1])
	if h > 23 {
		return ""
	}
	return fmt.Sprintf("%02d:%s", h, m[2])
}

// clockMatches reports whether a chunk's time expression mentions both the
// hour and the minute of a normalized HH:MM query time.
func clockMatches(chunkTime, queryClock string) bool {
	if chunkTime == "" || len(queryClock) != 5 {
		return false
	}
	hour := strings.TrimPrefix(queryClock[:2], "0")
	if hour == "" {
		hour = "0"
	}
	minute := queryClock[3:]
	return strings.Contains(chunkTime, hour) && strings.Contains(chunkTime, minute)
}
