package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gridhold.gg/internal/admission"
	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/game"
	"gridhold.gg/internal/httpapi"
	"gridhold.gg/internal/master"
	persistlog "gridhold.gg/internal/persistence/log"
	"gridhold.gg/internal/persistence/scoredb"
	"gridhold.gg/internal/score"
	"gridhold.gg/internal/store"
	"gridhold.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		masterPath = flag.String("master", "", "path to master data json (default: <configs>/master.json)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		usersPath  = flag.String("users", "", "path to users.yaml (default: <configs>/users.yaml)")

		mode        = flag.String("mode", "all", "which engines to run: api, calc or all")
		startAt     = flag.Int64("start_at", 0, "absolute game start, unix milliseconds (0: use -start_offset)")
		startOffset = flag.Int64("start_offset", 5000, "game start offset from boot, milliseconds")
		period      = flag.Int64("period", 0, "game period override, milliseconds (0: use master data)")

		noAudit  = flag.Bool("no_audit", false, "disable the move audit log")
		initGame = flag.Bool("init", false, "wipe persisted scoring state and start a fresh game")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	runAPI := *mode == "api" || *mode == "all"
	runCalc := *mode == "calc" || *mode == "all"
	if !runAPI && !runCalc {
		logger.Fatalf("invalid -mode %q (want api, calc or all)", *mode)
	}

	mp := strings.TrimSpace(*masterPath)
	if mp == "" {
		mp = filepath.Join(*configDir, "master.json")
	}
	md, err := master.Load(mp)
	if err != nil {
		logger.Fatalf("load master data: %v", err)
	}
	if *period > 0 {
		md.Period = *period
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := game.LoadTuning(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = game.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	up := strings.TrimSpace(*usersPath)
	if up == "" {
		up = filepath.Join(*configDir, "users.yaml")
	}
	tokens, err := game.LoadUsers(up)
	if err != nil {
		logger.Fatalf("load users: %v", err)
	}
	if len(tokens) == 0 {
		logger.Fatalf("no user tokens in %s", up)
	}

	start := *startAt
	if start == 0 {
		start = time.Now().UnixMilli() + *startOffset
	}
	clock := game.NewClock(start)
	logger.Printf("game start=%d period=%d users=%d resources=%d",
		start, md.Period, len(tokens), len(md.Resources))

	st := store.New()
	st.Update(func(tx *store.Tx) {
		for token, userID := range tokens {
			tx.Data.Tokens[token] = userID
		}
		tx.Data.StartAt = start
		tx.Data.Period = md.Period
	})

	db, err := scoredb.Open(filepath.Join(*dataDir, "score.db"))
	if err != nil {
		logger.Fatalf("open score db: %v", err)
	}
	defer db.Close()
	if *initGame {
		if err := db.Reset(); err != nil {
			logger.Fatalf("reset score db: %v", err)
		}
		logger.Printf("scoring state wiped")
	}

	mirror := buildMirror(*dataDir, logger)
	defer mirror.Close()

	var audit engine.MoveLogger
	if !*noAudit {
		moveLog := persistlog.NewMoveLog(filepath.Join(*dataDir, "movelog"), func(err error) {
			logger.Printf("move audit: %v", err)
		})
		moveLog.OnRotate(mirror.Enqueue)
		defer moveLog.Close()
		audit = moveLog
	}

	eng := engine.New(st, audit)
	adm := admission.New(st, clock)

	ctx, cancel := signalContext()
	defer cancel()

	if mirror != nil {
		go mirrorScoreDB(ctx, mirror, *dataDir)
	}

	if runCalc {
		scorer := score.NewScorer(st, md, clock, tune, db, logger)
		go func() {
			if err := scorer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("scoring stopped: %v", err)
				cancel()
				return
			}
			logger.Printf("scoring complete")
		}()
	}

	api := httpapi.New(st, md, clock, tune, eng, adm, logger)
	wsSrv := ws.NewServer(st, md, clock, tune, eng, adm, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		var lastCalc int64
		st.View(func(d *store.Data) { lastCalc = d.LastCalcTime })
		m := api.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP gridhold_game_now Current game time in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE gridhold_game_now gauge\n")
		fmt.Fprintf(rw, "gridhold_game_now %d\n", clock.Now())

		fmt.Fprintf(rw, "# HELP gridhold_last_calc_time Last completed scoring tick.\n")
		fmt.Fprintf(rw, "# TYPE gridhold_last_calc_time gauge\n")
		fmt.Fprintf(rw, "gridhold_last_calc_time %d\n", lastCalc)

		fmt.Fprintf(rw, "# HELP gridhold_sessions Open streaming sessions.\n")
		fmt.Fprintf(rw, "# TYPE gridhold_sessions gauge\n")
		fmt.Fprintf(rw, "gridhold_sessions %d\n", wsSrv.ActiveSessions())

		fmt.Fprintf(rw, "# HELP gridhold_api_requests_total API requests by endpoint.\n")
		fmt.Fprintf(rw, "# TYPE gridhold_api_requests_total counter\n")
		fmt.Fprintf(rw, "gridhold_api_requests_total{endpoint=%q} %d\n", "game", m.Game.Load())
		fmt.Fprintf(rw, "gridhold_api_requests_total{endpoint=%q} %d\n", "move", m.Move.Load())
		fmt.Fprintf(rw, "gridhold_api_requests_total{endpoint=%q} %d\n", "resources", m.Resources.Load())

		fmt.Fprintf(rw, "# HELP gridhold_api_time_limited_total Requests refused for rate-limit contention.\n")
		fmt.Fprintf(rw, "# TYPE gridhold_api_time_limited_total counter\n")
		fmt.Fprintf(rw, "gridhold_api_time_limited_total %d\n", m.TimeLimited.Load())

		fmt.Fprintf(rw, "# HELP gridhold_api_rejected_total Malformed or unauthorized requests.\n")
		fmt.Fprintf(rw, "# TYPE gridhold_api_rejected_total counter\n")
		fmt.Fprintf(rw, "gridhold_api_rejected_total %d\n", m.Rejected.Load())

		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "# HELP gridhold_mirror_queue_depth Files waiting for offsite upload.\n")
			fmt.Fprintf(rw, "# TYPE gridhold_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "gridhold_mirror_queue_depth %d\n", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP gridhold_mirror_uploads_total Offsite uploads by outcome.\n")
			fmt.Fprintf(rw, "# TYPE gridhold_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "gridhold_mirror_uploads_total{outcome=%q} %d\n", "ok", ms.UploadedTotal)
			fmt.Fprintf(rw, "gridhold_mirror_uploads_total{outcome=%q} %d\n", "failed", ms.FailedTotal)
			fmt.Fprintf(rw, "gridhold_mirror_uploads_total{outcome=%q} %d\n", "dropped", ms.DroppedTotal)
		}
	})
	if runAPI {
		api.Register(mux)
		wsSrv.Register(mux)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
