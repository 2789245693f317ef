package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/mfield/pranight/internal/analysis"
	"github.com/mfield/pranight/internal/httputil"
	"github.com/mfield/pranight/internal/ingest"
	"github.com/mfield/pranight/internal/models"
	"github.com/mfield/pranight/internal/stations"
	"github.com/mfield/pranight/internal/store"
)

// defaultStations covers a spread of well-instrumented INTERMAGNET
// observatories; a stations.json catalog overrides it.
var defaultStations = []models.Station{
	{Code: "KAK", Name: "Kakioka", Country: "Japan", Latitude: 36.232, Longitude: 140.186, Timezone: "Asia/Tokyo"},
	{Code: "ABG", Name: "Alibag", Country: "India", Latitude: 18.638, Longitude: 72.872, Timezone: "Asia/Kolkata"},
	{Code: "HER", Name: "Hermanus", Country: "South Africa", Latitude: -34.425, Longitude: 19.225, Timezone: "Africa/Johannesburg"},
	{Code: "HON", Name: "Honolulu", Country: "United States", Latitude: 21.32, Longitude: -158.0, Timezone: "Pacific/Honolulu"},
}

var cli struct {
	DB       string        `help:"Path to the SQLite database." default:"data/pranight.db" env:"PRANIGHT_DB"`
	Stations string        `help:"Path to the station catalog JSON." default:"stations.json" env:"PRANIGHT_STATIONS"`
	Codes    []string      `help:"Station codes to process; default is every catalog entry." env:"PRANIGHT_CODES"`
	DataDir  string        `help:"Directory for cached raw day files." default:"data/raw" env:"PRANIGHT_DATA_DIR"`
	Listen   string        `help:"Prometheus metrics listen address." default:":9464" env:"PRANIGHT_LISTEN"`
	Interval time.Duration `help:"Scheduler cycle interval." default:"15m" env:"PRANIGHT_INTERVAL"`
	RunHour  int           `name:"run-hour" help:"Hour in --run-tz before which a cycle targets the previous night." default:"8" env:"PRANIGHT_RUN_HOUR"`
	RunTZ    string        `name:"run-tz" help:"Timezone anchoring the nightly rollover." default:"Asia/Singapore" env:"PRANIGHT_RUN_TZ"`

	GINURL  string `name:"gin-url" help:"INTERMAGNET GIN service base URL." default:"${gin_url}" env:"PRANIGHT_GIN_URL"`
	OMNIURL string `name:"omni-url" help:"OMNIWeb CGI base URL." default:"${omni_url}" env:"PRANIGHT_OMNI_URL"`
	FTPAddr string `name:"ftp-addr" help:"IAGA-2002 FTP mirror address; empty disables the fallback." default:"${ftp_addr}" env:"PRANIGHT_FTP_ADDR"`

	Tight bool `help:"Use the tighter quiet-classification bounds." env:"PRANIGHT_TIGHT"`
	Force bool `help:"Recompute nights that are already persisted." env:"PRANIGHT_FORCE_RERUN"`

	Once          bool   `help:"Run a single cycle and exit."`
	Date          string `help:"Process one night (YYYY-MM-DD, the local morning date), recomputing if persisted, then exit."`
	Backfill      int    `help:"Process the last N nights oldest-first, then exit."`
	ListAnomalies int    `name:"list-anomalies" help:"Print the latest N anomaly log rows and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("pranight"),
		kong.Description("Nighttime geomagnetic polarization-ratio anomaly detector."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.Vars{
			"gin_url":  ingest.DefaultGINBaseURL,
			"omni_url": ingest.DefaultOMNIBaseURL,
			"ftp_addr": ingest.DefaultFTPAddr,
		},
	)

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	runLoc, err := time.LoadLocation(cli.RunTZ)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", cli.RunTZ, err)
		runLoc = time.UTC
	}

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	catalog, err := stations.Load(cli.Stations)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("station catalog %s not found, using built-in defaults", cli.Stations)
		catalog = defaultStations
	} else if err != nil {
		log.Fatalf("load stations: %v", err)
	}
	selected, unknown := stations.Select(catalog, cli.Codes)
	for _, code := range unknown {
		log.Printf("Warning: station code %q is not in the catalog", code)
	}
	if len(selected) == 0 {
		log.Fatal("no stations selected")
	}
	for _, station := range selected {
		if err := st.UpsertStation(station); err != nil {
			log.Fatalf("upsert station %s: %v", station.Code, err)
		}
	}
	log.Printf("%d stations seeded", len(selected))

	if cli.ListAnomalies > 0 {
		listAnomalies(st, cli.ListAnomalies)
		return
	}

	gin := ingest.NewGINClient(httputil.NewDownloadClient(), cli.GINURL)
	var src *ingest.NightSource
	if cli.FTPAddr != "" {
		src = ingest.NewNightSource(st, gin, ingest.NewFTPMirror(cli.FTPAddr), cli.DataDir)
	} else {
		src = ingest.NewNightSource(st, gin, nil, cli.DataDir)
	}
	dist := ingest.NewDisturbanceProvider(st, ingest.NewOMNIClient(httputil.NewClient(), cli.OMNIURL))

	cfg := analysis.DefaultConfig()
	cfg.Quiet.Tight = cli.Tight

	runner := analysis.NewRunner(st, src, dist, stations.NewTZCache(), cfg)
	sched := analysis.NewScheduler(runner, selected, analysis.SchedulerConfig{
		Interval:           cli.Interval,
		RunHour:            cli.RunHour,
		RunTZ:              runLoc,
		Force:              cli.Force,
		RawRetentionNights: cfg.RetentionNights,
	})
	sched.PruneRaw = src.Prune

	log.Printf("db=%s data-dir=%s interval=%s run-hour=%02d run-tz=%s tight=%v",
		cli.DB, cli.DataDir, cli.Interval, cli.RunHour, runLoc, cli.Tight)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cli.Date != "" {
		night, err := time.ParseInLocation("2006-01-02", cli.Date, time.UTC)
		if err != nil {
			log.Fatalf("parse --date: %v", err)
		}
		sched.RunNightAt(ctx, night)
		return
	}

	if cli.Backfill > 0 {
		log.Printf("backfilling the last %d nights", cli.Backfill)
		sched.Backfill(ctx, cli.Backfill)
		log.Println("done")
		return
	}

	if cli.Once {
		log.Println("running a single cycle")
		sched.RunCycle(ctx)
		log.Println("done")
		return
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics on %s", cli.Listen)
		if err := http.ListenAndServe(cli.Listen, nil); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	sched.Run(ctx)
}

func listAnomalies(st *store.Store, limit int) {
	events, err := st.ListAnomalies("", limit)
	if err != nil {
		log.Fatalf("list anomalies: %v", err)
	}
	if len(events) == 0 {
		fmt.Println("no anomalies recorded")
		return
	}
	for _, ev := range events {
		fmt.Printf("%s  %s  %s  offset %+.3fd  P %.4g  Sz %.4g  thr %.4g\n",
			ev.NightDate.Format("2006-01-02"), ev.StationCode,
			ev.Time.UTC().Format("15:04:05"), ev.DayOffset,
			ev.Value, ev.VerticalPower, ev.Threshold)
	}
}
