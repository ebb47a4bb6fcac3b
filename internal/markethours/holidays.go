package markethours

import "time"

// NYSE full-day closures for 2026.
// Format: month, day pairs.
var nyseHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.January, 19},  // Martin Luther King Jr. Day
	{time.February, 16}, // Washington's Birthday
	{time.April, 3},     // Good Friday
	{time.May, 25},      // Memorial Day
	{time.June, 19},     // Juneteenth
	{time.July, 3},      // Independence Day (observed)
	{time.September, 7}, // Labor Day
	{time.November, 26}, // Thanksgiving Day
	{time.December, 25}, // Christmas Day
}

// NYSEHolidays2026 returns the 2026 closures as YYYY-MM-DD strings.
func NYSEHolidays2026() []string {
	out := make([]string, 0, len(nyseHolidays2026))
	for _, h := range nyseHolidays2026 {
		out = append(out, dateKey(2026, h.month, h.day))
	}
	return out
}

// IsHoliday returns true if t's exchange-local date is a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	local := t.In(c.loc)
	return c.holidays[dateKey(local.Year(), local.Month(), local.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
