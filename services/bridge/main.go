// The bridge runs the realtime core for one user session and exposes its
// merged state (threads, notifications, typing, toasts) to local
// presentation surfaces over HTTP and SSE.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/studycircle/internal/broadcast"
	"github.com/studycircle/internal/client"
	"github.com/studycircle/internal/config"
	"github.com/studycircle/internal/handler"
	"github.com/studycircle/internal/logger"
	"github.com/studycircle/internal/middleware"
	"github.com/studycircle/internal/push"
	"github.com/studycircle/internal/rest"
	"github.com/studycircle/internal/startup"
	"github.com/studycircle/internal/storage"
	memorystorage "github.com/studycircle/internal/storage/memory"
	"github.com/studycircle/internal/transport"
)

func main() {
	logger.SetPrefix("bridge")
	logger.Info("starting bridge")
	cfg := config.Load()
	if cfg.UserID == "" {
		logger.Errorf("USER_ID is required (the session's user)")
		os.Exit(1)
	}

	// Prefs and cross-tab broadcast use Redis when configured; without it
	// both degrade to in-process state and polling convergence.
	var prefs storage.PrefsStore
	var bus broadcast.Broadcaster
	if cfg.Redis.URL != "" {
		prefs = startup.ConnectRedisWithRetry(cfg.Redis.URL, cfg.UserID, 60*time.Second, "")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisBus, err := broadcast.NewRedisBus(ctx, cfg.Redis.URL, cfg.UserID)
		cancel()
		if err != nil {
			logger.Errorf("cross-tab broadcast unavailable, degrading to polling: %v", err)
			bus = broadcast.Noop{}
		} else {
			bus = redisBus
		}
		logger.Info("redis connected")
	} else {
		prefs = memorystorage.New()
		bus = broadcast.NewBus()
		logger.Info("running without redis (in-memory prefs, in-process broadcast)")
	}
	defer prefs.Close()
	defer bus.Close()

	restClient := rest.NewClient(cfg.APIBaseURL, cfg.AuthToken)
	tr := transport.New(cfg.WSURL, cfg.AuthToken)
	sender := push.NewSender(cfg.Push.VAPIDKeysFile, cfg.Push.SubscriptionsFile, cfg.Push.Subscriber)
	if sender.Enabled() {
		logger.Info("web push hand-off enabled")
	}

	core := client.New(client.Options{
		Cfg:       cfg,
		Transport: tr,
		REST:      restClient,
		Prefs:     prefs,
		Broadcast: bus,
		Push:      sender,
	})
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := core.Start(startCtx); err != nil {
		startCancel()
		logger.Errorf("start core: %v", err)
		os.Exit(1)
	}
	startCancel()
	defer func() {
		core.Close()
		tr.Close()
	}()

	bridgeH := handler.NewBridgeHandler(core)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Route("/api", bridgeH.Routes)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Infof("bridge listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("bridge server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("bridge stopped")
}

func splitOrigins(s string) []string {
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
