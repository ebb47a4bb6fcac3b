package notification

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"equity-alerts/internal/model"
)

func price(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(2)
}

func clock(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("15:04 MST")
}

func alertLine(a model.Alert, loc *time.Location) string {
	if a.Evidence == nil {
		return fmt.Sprintf("%s %s at %s", a.Instrument, a.Rule, clock(a.FiredAt, loc))
	}
	return fmt.Sprintf("%s %s @ %s (%s)", a.Instrument, a.Rule, price(a.Evidence.Price), clock(a.Evidence.At, loc))
}

// AlertMessage renders one alert. loc is the exchange zone for timestamps.
func AlertMessage(a model.Alert, loc *time.Location) Message {
	var b strings.Builder
	if a.Evidence != nil {
		fmt.Fprintf(&b, "Price %s at %s\n", price(a.Evidence.Price), clock(a.Evidence.At, loc))
		if a.Evidence.Rationale != "" {
			b.WriteString(a.Evidence.Rationale)
			b.WriteByte('\n')
		}
	} else {
		fmt.Fprintf(&b, "Fired at %s\n", clock(a.FiredAt, loc))
	}
	fmt.Fprintf(&b, "Session %s", a.Session)

	return Message{
		Level:  LevelInfo,
		Title:  fmt.Sprintf("%s triggered %s", a.Instrument, a.Rule),
		Body:   b.String(),
		Alerts: []model.Alert{a},
	}
}

// BatchMessage renders every alert of one tick into a single message.
func BatchMessage(profile string, session model.SessionDate, alerts []model.Alert, loc *time.Location) Message {
	lines := make([]string, len(alerts))
	for i, a := range alerts {
		lines[i] = alertLine(a, loc)
	}
	return Message{
		Level:  LevelInfo,
		Title:  fmt.Sprintf("%s signals %s (%d)", profile, session, len(alerts)),
		Body:   strings.Join(lines, "\n"),
		Alerts: append([]model.Alert(nil), alerts...),
	}
}

// DigestMessage summarises a session's alerts grouped by instrument. An
// empty session yields the "no valid signals" variant.
func DigestMessage(session model.SessionDate, alerts []model.Alert, loc *time.Location) Message {
	title := fmt.Sprintf("Session summary %s", session)
	if len(alerts) == 0 {
		return Message{Level: LevelInfo, Title: title, Body: "No valid signals this session."}
	}

	byInstrument := make(map[string][]model.Alert)
	for _, a := range alerts {
		byInstrument[a.Instrument] = append(byInstrument[a.Instrument], a)
	}
	instruments := make([]string, 0, len(byInstrument))
	for inst := range byInstrument {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)

	var b strings.Builder
	fmt.Fprintf(&b, "%d signals on %d instruments\n", len(alerts), len(instruments))
	for _, inst := range instruments {
		fmt.Fprintf(&b, "\n%s\n", inst)
		for _, a := range byInstrument[inst] {
			fmt.Fprintf(&b, "  %s\n", alertLine(a, loc))
		}
	}
	return Message{
		Level:  LevelInfo,
		Title:  title,
		Body:   strings.TrimRight(b.String(), "\n"),
		Alerts: append([]model.Alert(nil), alerts...),
	}
}
