package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"voicefront/agent/internal/api"
	"voicefront/agent/internal/config"
	"voicefront/agent/internal/conversation"
	"voicefront/agent/internal/health"
	"voicefront/agent/internal/store"
	"voicefront/agent/internal/voicews"
)

const askService = "voicefront.ask"

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	configureLogging(cfg.Server.LogLevel)

	st := store.New()
	ask := conversation.NewClient(cfg.Ask.URL, cfg.AskTimeout())
	checker := health.NewChecker(cfg)

	h := api.NewHandlers(cfg, st, checker)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.Handle("/metrics", promhttp.Handler())
	// Voice socket route
	reg := voicews.NewRegistry()
	wss := voicews.NewServer(cfg, st, reg, ask)
	mux.HandleFunc("/ws/voice", wss.HandleVoiceWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Server.GRPCAddr != "" {
		gs := grpc.NewServer()
		hs := grpchealth.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		g.Go(func() error {
			l, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return err
			}
			log.Printf("grpc health listening on %s", cfg.Server.GRPCAddr)
			return gs.Serve(l)
		})
		g.Go(func() error {
			watchAsk(ctx, checker, hs)
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			hs.Shutdown()
			gs.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Printf("shutdown signal received; stopping server...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if n := st.PendingTurns(); n > 0 {
			log.Printf("shutdown with %d turns still awaiting a reply", n)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

// watchAsk mirrors answering-service readiness into the gRPC health service.
func watchAsk(ctx context.Context, checker *health.Checker, hs *grpchealth.Server) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if checker.CheckAll(ctx).OK {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(askService, status)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// configureLogging applies server.log_level to the standard logger: debug
// adds microseconds and call sites, off discards output.
func configureLogging(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	case "off", "none", "silent":
		log.SetOutput(io.Discard)
	default:
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
