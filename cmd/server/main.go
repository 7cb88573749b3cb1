package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/nexguard/nexguard/internal/api"
	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/config"
	"github.com/nexguard/nexguard/internal/data"
	"github.com/nexguard/nexguard/internal/detect"
	"github.com/nexguard/nexguard/internal/events"
	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/inference"
	"github.com/nexguard/nexguard/internal/live"
	"github.com/nexguard/nexguard/internal/media"
	"github.com/nexguard/nexguard/internal/middleware"
	"github.com/nexguard/nexguard/internal/notify"
	"github.com/nexguard/nexguard/internal/platform/paths"
	"github.com/nexguard/nexguard/internal/rtc"
)

var errNATSUnavailable = errors.New("nats connection unavailable")

// deferredSink lets the dispatcher be constructed before the event
// manager that consumes its results.
type deferredSink struct {
	target inference.ResultSink
}

func (s *deferredSink) Handle(ctx context.Context, res frame.Result) {
	if s.target != nil {
		s.target.Handle(ctx, res)
	}
}

func main() {
	cfgPath := os.Getenv("NEXGUARD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}

	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	// 2. Storage layout
	if err := paths.EnsureStorageDirs(cfg.Storage.Dir, cfg.Storage.ImgSubdir, cfg.Storage.VideoSubdir); err != nil {
		log.Fatalf("Storage init error: %v", err)
	}

	// 3. Database
	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	detections := data.DetectionModel{DB: db}
	mediaModel := data.MediaModel{DB: db}
	cameras := data.CameraModel{DB: db}

	// 4. NATS (detector transport + alert fan-out). The pipeline runs
	// without it; detections just stay disabled until it comes back.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Printf("[MAIN] NATS connect failed, alerts fall back to log: %v", err)
			nc = nil
		}
	}

	// 5. Redis latest-detection cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	liveCache := live.NewCache(rdb, time.Duration(cfg.Redis.TTLSeconds)*time.Second)

	// 6. Capture
	capMgr := capture.NewManager(capture.NewFFmpegSource, cfg.Capture.BufferSize)

	// 7. Inference
	factory := func(modelPath string) (detect.Detector, error) {
		if nc == nil {
			return nil, errNATSUnavailable
		}
		return detect.NewNATSDetector(nc, cfg.NATS.DetectSubject, modelPath, cfg.NATS.InferTimeout()), nil
	}
	sink := &deferredSink{}
	dispatcher := inference.NewDispatcher(capMgr, sink, factory, cfg.Inference.ConfThreshold, cfg.Inference.ResultsBuffer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Inference.ModelPath != "" {
		if err := dispatcher.LoadModel(cfg.Inference.ModelPath); err != nil {
			log.Printf("[MAIN] model load failed, inference idle: %v", err)
		}
		go dispatcher.WatchModel(ctx)
	}

	// 8. Alerts
	var alertSink notify.Sink = notify.LogSink{}
	if nc != nil {
		alertSink = notify.NewNATSSink(nc, cfg.NATS.AlertSubject, 3)
	}
	alerts := notify.NewPool(alertSink, cfg.Events.AlertWorkers, cfg.Events.AlertQueue)

	// 9. Event manager (closes the loop back onto the dispatcher)
	eventMgr := events.NewManager(events.Options{
		Config:      cfg.Events,
		StorageRoot: cfg.Storage.Dir,
		ImgSubdir:   cfg.Storage.ImgSubdir,
		VideoSubdir: cfg.Storage.VideoSubdir,
		Detections:  detections,
		Media:       mediaModel,
		Cameras:     capMgr,
		Frames:      capMgr,
		Results:     dispatcher,
		Alerts:      alerts,
		Live:        liveCache,
	})
	sink.target = eventMgr

	// 10. WebRTC viewers
	sessions, err := rtc.NewSessionManager(capMgr, dispatcher, cfg.WebRTC)
	if err != nil {
		log.Fatalf("RTC init error: %v", err)
	}

	// 11. Registered cameras
	if cams, err := cameras.List(ctx); err != nil {
		log.Printf("[MAIN] camera list failed: %v", err)
	} else {
		for _, c := range cams {
			cc := capture.Config{ID: c.ID, Name: c.Name, URL: c.URL, FPS: c.FPS, Width: c.Width, Height: c.Height}
			if err := capMgr.Add(cc); err != nil {
				log.Printf("[MAIN] camera %d register failed: %v", c.ID, err)
				continue
			}
			if c.Enabled {
				if err := capMgr.Start(c.ID); err != nil {
					log.Printf("[MAIN] camera %d start failed: %v", c.ID, err)
					continue
				}
				dispatcher.StartProcessing(c.ID)
			}
		}
	}

	// 12. HTTP surface
	var auth middleware.Authenticator
	if cfg.Auth.JWTSecret != "" {
		auth = middleware.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	} else {
		log.Printf("[MAIN] JWT_SIGNING_KEY not set, control API runs unauthenticated")
	}

	server := &api.Server{
		Capture:     capMgr,
		Inference:   dispatcher,
		Signaler:    sessions,
		Cameras:     cameras,
		Detections:  detections,
		Media:       mediaModel,
		Transcoder:  media.FFmpegTranscoder{},
		Auth:        auth,
		StorageRoot: cfg.Storage.Dir,
	}

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("[MAIN] listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 13. Shutdown: viewers first, then inference, then capture, then
	// drain recordings and alerts.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("[MAIN] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] http shutdown: %v", err)
	}

	sessions.CloseAll()
	dispatcher.StopAll()
	capMgr.StopAll()
	eventMgr.Close()
	alerts.Close()
	cancel()

	if nc != nil {
		nc.Close()
	}
	if err := rdb.Close(); err != nil {
		log.Printf("[MAIN] redis close: %v", err)
	}
	log.Printf("[MAIN] bye")
}
