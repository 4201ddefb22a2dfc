package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clickerclicker.app/internal/persistence/indexdb"
	"clickerclicker.app/internal/profile"
	"clickerclicker.app/internal/transport/profileapi"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "http listen address")
		profileDir    = flag.String("profiles", envString("CC_PROFILE_DIR", "./profiles"), "profile directory (one <id>.json per player)")
		registerRPS   = flag.Float64("register_rps", envFloat("CC_REGISTER_RPS", 1), "registrations per second per remote host (0 disables)")
		registerBurst = flag.Int("register_burst", 5, "registration burst per remote host")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[profiles] ", log.LstdFlags|log.Lmicroseconds)

	if err := os.MkdirAll(*profileDir, 0o755); err != nil {
		logger.Fatalf("profile dir: %v", err)
	}

	// Optional read model; the JSON files stay authoritative.
	idx, err := openIndex(*profileDir)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}

	storeOpts := profile.Options{Logger: logger}
	apiOpts := profileapi.Options{
		Logger:        logger,
		RegisterRPS:   *registerRPS,
		RegisterBurst: *registerBurst,
	}
	if idx != nil {
		defer idx.Close()
		storeOpts.Recorder = idx
		apiOpts.IndexStats = func() indexdb.Stats { return idx.Stats() }
	} else {
		logger.Printf("index backend disabled (CC_INDEX_BACKEND=none)")
	}

	store, err := profile.Open(*profileDir, storeOpts)
	if err != nil {
		logger.Fatalf("open profiles: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	if envBool("CC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CC_ENABLE_PPROF_HTTP=false)")
	}
	mux.Handle("/", profileapi.NewServer(store, apiOpts).Handler())

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
		logger.Printf("ListenAndServe: %v", err)
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
