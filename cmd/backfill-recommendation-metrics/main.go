package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/procurement"
	"github.com/mmdatafocus/household_backend/utils"
)

func main() {
	from := flag.String("from", "", "Start date (YYYY-MM-DD). Defaults to 30 days before --to.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD). Defaults to today in ENGINE_TIMEZONE.")
	force := flag.Bool("force", false, "Recalculate days that already have a metrics row.")
	flag.Parse()

	ctx := utils.SetActorInContext(context.Background(), "BackfillRecommendationMetrics")

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine config: %v\n", err)
		os.Exit(1)
	}
	store, db, err := models.OpenStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	if db != nil {
		// Ensure schema is up-to-date (creates recommendation_metrics if missing).
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}
	config.ConnectRedisWithRetry(ctx)

	opts := []procurement.Option{procurement.WithEvents(config.EventOutboxEnabled())}
	if lock := config.GetRedisLock(); lock != nil {
		opts = append(opts, procurement.WithLocker(lock))
	}
	engine := procurement.NewEngine(store, cfg, opts...)
	loc := engine.Location()

	end := strings.TrimSpace(*to)
	if end == "" {
		end = utils.DateKey(time.Now(), loc)
	}
	endDay, err := utils.ParseDateKey(end, loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --to %q: %v\n", end, err)
		os.Exit(1)
	}
	startDay := endDay.AddDate(0, 0, -30)
	if s := strings.TrimSpace(*from); s != "" {
		if startDay, err = utils.ParseDateKey(s, loc); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --from %q: %v\n", s, err)
			os.Exit(1)
		}
	}
	if startDay.After(endDay) {
		fmt.Fprintln(os.Stderr, "--from must not be after --to")
		os.Exit(1)
	}

	fmt.Printf("Backfilling recommendation_metrics from=%s to=%s force=%v\n",
		utils.DateKey(startDay, loc), utils.DateKey(endDay, loc), *force)

	failed := 0
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		date := utils.DateKey(day, loc)
		res, err := engine.UpdateRecommendationMetrics(ctx, procurement.MetricsUpdateRequest{Date: date, ForceRecalculate: *force})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s backfill failed: %v\n", date, err)
			failed++
			continue
		}
		if res.Recalculated {
			fmt.Printf("%s total=%d acceptance_rate=%.4f\n", date, res.Metrics.TotalRecommendations, res.Metrics.AcceptanceRate)
		}
	}

	_ = config.CloseRedis()
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "Backfill finished with %d failed day(s)\n", failed)
		os.Exit(1)
	}
	fmt.Println("Backfill complete")
}
