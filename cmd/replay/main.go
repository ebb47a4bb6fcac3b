// cmd/replay walks recorded Parquet bars forward one bar at a time through a
// profile, with an in-memory ledger, and prints alerts as they would have
// fired. --record first downloads the bars from Yahoo.
//
// Usage:
//
//	go run ./cmd/replay --profile=intraday --record
//	go run ./cmd/replay --profile=intraday --symbols=SPY,QQQ --dir=data/bars
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"equity-alerts/config"
	"equity-alerts/internal/datasource"
	"equity-alerts/internal/ledger"
	"equity-alerts/internal/logger"
	"equity-alerts/internal/model"
	"equity-alerts/internal/scanner"
	"equity-alerts/internal/series"
)

func main() {
	profileName := flag.String("profile", "intraday", "Profile from the rule file")
	rulesPath := flag.String("rules", "config/rules.yaml", "Rule file")
	dir := flag.String("dir", "data/bars", "Directory of {SYMBOL}_{interval}.parquet files")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols (default: the profile's universe)")
	record := flag.Bool("record", false, "Download bars from Yahoo into --dir before replaying")
	flag.Parse()

	logger.Init("replay", slog.LevelWarn)

	rules, err := config.LoadRules(*rulesPath)
	if err != nil {
		fatal(err)
	}
	cal, err := config.Calendar(rules.Exchange)
	if err != nil {
		fatal(err)
	}
	rp, ok := rules.Profiles[*profileName]
	if !ok {
		fatal(fmt.Errorf("profile %q not found (have %v)", *profileName, rules.ProfileNames()))
	}
	profile, err := scanner.BuildProfile(*profileName, rp, cal.Open())
	if err != nil {
		fatal(err)
	}
	universe := pick(rules.Instruments(rp), *symbolsFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *record {
		yahoo := datasource.NewYahoo(getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"), cal.Location(), 15*time.Second)
		for _, inst := range universe {
			s, err := yahoo.FetchBars(ctx, inst.Symbol, profile.Interval, profile.Range)
			if err != nil {
				fmt.Printf("  %-6s record failed: %v\n", inst.Symbol, err)
				continue
			}
			path := datasource.BarsPath(*dir, inst.Symbol, profile.Interval)
			if err := datasource.WriteBarsFile(path, s); err != nil {
				fatal(err)
			}
			fmt.Printf("  %-6s recorded %d bars -> %s\n", inst.Symbol, s.Len(), path)
		}
	}

	src := datasource.NewStatic()
	var stamps []time.Time
	for _, inst := range universe {
		s, err := datasource.ReadBarsFile(datasource.BarsPath(*dir, inst.Symbol, profile.Interval), inst.Symbol, cal.Location())
		if err != nil {
			fmt.Printf("  %-6s skipped: %v\n", inst.Symbol, err)
			continue
		}
		src.Set(s)
		stamps = append(stamps, timestamps(s)...)
	}
	stamps = uniqueSorted(stamps)
	if len(stamps) == 0 {
		fatal(fmt.Errorf("no bars found in %s", *dir))
	}

	sc, err := scanner.New(scanner.Config{
		Profile:     profile,
		Universe:    universe,
		Calendar:    cal,
		Concurrency: 1,
	}, src, ledger.NewMemory())
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Replaying %s over %d instruments, %d bars (%s .. %s)\n\n", profile.Name, len(universe), len(stamps),
		stamps[0].Format("2006-01-02 15:04"), stamps[len(stamps)-1].Format("2006-01-02 15:04"))

	total := 0
	byRule := make(map[string]int)
	for _, ts := range stamps {
		if ctx.Err() != nil {
			break
		}
		src.AsOf(ts)
		rep, err := sc.Tick(ctx, ts)
		if err != nil {
			fatal(err)
		}
		for _, a := range rep.Alerts {
			total++
			byRule[a.Rule]++
			price, why := 0.0, ""
			if a.Evidence != nil {
				price, why = a.Evidence.Price, a.Evidence.Rationale
			}
			fmt.Printf("  [%s] %-6s %-26s %10.2f  %s\n", ts.Format("2006-01-02 15:04"), a.Instrument, a.Rule, price, why)
		}
	}

	fmt.Println()
	fmt.Printf("Replay complete: %d alerts\n", total)
	names := make([]string, 0, len(byRule))
	for n := range byRule {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("  %-26s %d\n", n, byRule[n])
	}
}

func pick(universe []model.Instrument, symbols string) []model.Instrument {
	if symbols == "" {
		return universe
	}
	want := make(map[string]bool)
	for _, s := range strings.Split(symbols, ",") {
		want[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	var out []model.Instrument
	for _, inst := range universe {
		if want[inst.Symbol] {
			out = append(out, inst)
		}
	}
	return out
}

func timestamps(s *series.Series) []time.Time {
	out := make([]time.Time, s.Len())
	for i := range out {
		out[i] = s.At(i).TS
	}
	return out
}

func uniqueSorted(ts []time.Time) []time.Time {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	out := ts[:0]
	for _, t := range ts {
		if n := len(out); n > 0 && out[n-1].Equal(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	slog.Error("replay failed", "error", err)
	fmt.Fprintln(os.Stderr, "replay:", err)
	os.Exit(1)
}
