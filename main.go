package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/freshtrack-service/config"
	"github.com/Tutortoise/freshtrack-service/detections"
	"github.com/Tutortoise/freshtrack-service/logger"
	"github.com/Tutortoise/freshtrack-service/storage"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type AppState struct {
	Config   *config.Config
	Pipeline *detections.Pipeline
	Store    *storage.Store
	Advisor  *storage.Advisor
	Log      logrus.FieldLogger
	Started  time.Time
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, log)
	stop()
	if err != nil {
		log.WithError(err).Fatal("FreshTrack backend stopped")
	}
}

// run serves until ctx is done or the listener fails. Every resource it
// opens is released before it returns.
func run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	catalog := detections.DefaultCatalog()
	if cfg.LabelsPath != "" {
		loaded, err := detections.LoadCatalog(cfg.LabelsPath)
		if err != nil {
			log.WithError(err).Warn("Failed to load labels, using built-in food catalog")
		} else {
			catalog = loaded
		}
	}

	pipeline := detections.New(detections.Config{
		Engine: detections.EngineConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.OnnxLibraryPath,
			ForceMock:   cfg.ForceMockMode,
			InputSize:   cfg.InputSize,
			Sessions:    cfg.InferenceSessions,
			Timeout:     cfg.InferenceTimeout,
		},
		Catalog:         catalog,
		ConfThreshold:   cfg.ConfThreshold,
		NMSThreshold:    cfg.NMSThreshold,
		BoxCoordsPixels: cfg.BoxCoordsPixels,
	}, log)
	defer func() {
		if err := pipeline.Close(); err != nil {
			log.WithError(err).Warn("Failed to release detection engine")
		}
	}()

	store, err := storage.Open(cfg.StorageDBPath)
	if err != nil {
		return fmt.Errorf("open storage database %s: %w", cfg.StorageDBPath, err)
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return fmt.Errorf("create upload directory %s: %w", cfg.UploadDir, err)
	}

	state := &AppState{
		Config:   cfg,
		Pipeline: pipeline,
		Store:    store,
		Advisor:  storage.NewAdvisor(store, log),
		Log:      log,
		Started:  time.Now(),
	}

	srv := &http.Server{
		Handler:      state.handler(),
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr": srv.Addr,
			"mode": pipeline.Mode().String(),
		}).Info("FreshTrack backend listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Graceful shutdown failed")
	}
	return nil
}

// handler is the router wrapped in CORS and access logging. The wrapping
// sits outside mux so preflight requests reach it for every route.
func (s *AppState) handler() http.Handler {
	return corsMiddleware(accessLogMiddleware(s.Log, s.router()))
}

func (s *AppState) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/test", s.handleTest).Methods("GET")

	r.HandleFunc("/api/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/api/detect/ws", s.handleDetectWebsocket).Methods("GET")

	r.HandleFunc("/api/storage", s.handleStorageAll).Methods("GET")
	r.HandleFunc("/api/storage/search", s.handleStorageSearch).Methods("GET")
	r.HandleFunc("/api/storage/{item}", s.handleStorageItem).Methods("GET")
	r.HandleFunc("/api/storage/{item}", s.handleStorageUpdate).Methods("PUT")
	r.HandleFunc("/api/storage/{item}/remaining", s.handleStorageRemaining).Methods("GET")

	s.addMonitoringRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendErrorResponse(w, "not_found", "Endpoint not found", http.StatusNotFound)
	})
	return r
}
