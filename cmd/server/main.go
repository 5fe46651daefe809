package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"beaverden.app/internal/persistence/eventlog"
	"beaverden.app/internal/persistence/roomdb"
	"beaverden.app/internal/presence"
	"beaverden.app/internal/protocol"
	"beaverden.app/internal/sim/catalogs"
	"beaverden.app/internal/sim/tuning"
	"beaverden.app/internal/transport/httpapi"
	"beaverden.app/internal/transport/ws"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "http listen address")
		configDir     = flag.String("configs", "./configs", "config directory")
		dataDir       = flag.String("data", "./data", "runtime data directory")
		tuningPath    = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		startingCoins = flag.Int("starting_coins", 200, "coins seeded into a fresh wallet")
		disableLog    = flag.Bool("disable_presence_log", false, "disable the compressed presence event log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	store, err := roomdb.Open(
		filepath.Join(*dataDir, "rooms.db"),
		roomdb.Bounds{RoomW: tune.RoomW, RoomH: tune.RoomH, ScaleMin: tune.ScaleMin, ScaleMax: tune.ScaleMax},
		roomdb.Spawn{X: tune.SpawnX, Y: tune.SpawnY, Dir: tune.SpawnDir},
		cats,
		*startingCoins,
	)
	if err != nil {
		logger.Fatalf("open room store: %v", err)
	}
	defer store.Close()

	var sink presence.EventSink
	if !*disableLog {
		plog := eventlog.NewPresenceLogger(*dataDir)
		defer plog.Close()
		sink = plog
	}

	registry := presence.NewRegistry(
		presence.Spawn{X: tune.SpawnX, Y: tune.SpawnY, Dir: tune.SpawnDir},
		logger,
		sink,
	)
	hub := presence.NewWatchHub()

	mux := http.NewServeMux()
	httpapi.NewServer(store, cats, hub, logger).Register(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(registry, hub, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Printf("listening on %s (protocol %s, %d catalog items)", *addr, protocol.Version, len(cats.Items.Keys))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
