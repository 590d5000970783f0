package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"live-subtitler/internal/hub"
	"live-subtitler/internal/platform/config"
	"live-subtitler/internal/platform/logger"
	"live-subtitler/internal/platform/metrics"
	"live-subtitler/internal/playlist"
	"live-subtitler/internal/protocol"
	"live-subtitler/internal/server"
	"live-subtitler/internal/session"
	"live-subtitler/internal/timer"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	mediaDir := config.GetEnv("MEDIA_DIR", "media")
	playlistFile := config.GetEnv("PLAYLIST_FILE", filepath.Join(mediaDir, "stream.m3u8"))
	windowSize := config.GetEnvInt("LIVE_WINDOW_SIZE", playlist.DefaultWindowSize)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	cfg := session.Config{
		SegmentDuration:    config.GetEnvInt("SEGMENT_DURATION", 2),
		DelaySec:           config.GetEnvInt("DELAY_SEC", 30),
		MaxDelaySec:        config.GetEnvInt("MAX_DELAY_SEC", 300),
		SlotDuration:       config.GetEnvInt("SLOT_DURATION", 10),
		OverlapDuration:    config.GetEnvInt("OVERLAP_DURATION", 4),
		GracePercent:       config.GetEnvInt("GRACE_PERCENT", 20),
		NotifyBefore:       config.GetEnvInt("NOTIFY_BEFORE", 3),
		RequiredSubtitlers: config.GetEnvInt("REQUIRED_SUBTITLERS", 3),
	}

	clients := hub.New(log)
	engine := session.New(cfg, timer.New(nil), clients, log, met)
	views := playlist.NewBuilder(playlistFile, windowSize)
	h := server.NewHandler(engine, views, clients, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			for _, role := range []protocol.Role{protocol.RoleAdmin, protocol.RoleSubtitler, protocol.RoleSpectator} {
				met.SetConnectedClients(string(role), clients.CountByRole(role))
			}
		}).ServeHTTP(w, req)
	})
	h.Routes(r)

	// Media segments are produced by the external transcoder; serve them
	// read-only next to the derived playlists.
	r.Handle("/hls/*", http.StripPrefix("/hls/", http.FileServer(http.Dir(mediaDir))))

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"playlist_file", playlistFile,
		"delay_sec", cfg.DelaySec,
		"slot_duration", cfg.SlotDuration,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	engine.StopRun()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
