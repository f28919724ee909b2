package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/gestalyze/internal/app"
	"github.com/ayusman/gestalyze/internal/bus"
	"github.com/ayusman/gestalyze/internal/classifier"
	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/config"
	"github.com/ayusman/gestalyze/internal/gesture"
	"github.com/ayusman/gestalyze/internal/logger"
	"github.com/ayusman/gestalyze/internal/metrics"
	"github.com/ayusman/gestalyze/internal/server"
	"github.com/ayusman/gestalyze/internal/store"
	"github.com/ayusman/gestalyze/models"
)

const clientID = "gestalyze_backend"

func main() {
	fmt.Println("Gestalyze - Hand Gesture Pipeline")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	// Initialize the store
	dbPath, err := resolveDBPath(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to prepare data directory: %v", err)
	}
	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()
	logger.Info("Main", "opened store at %s", st.Path())

	variants, err := loadVariants(cfg.Classifier.Models)
	if err != nil {
		log.Fatalf("Failed to load classifier models: %v", err)
	}
	adapter, err := classifier.NewAdapter(variants, activeVariant(st, cfg.Classifier.Variant, variants))
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}

	m := metrics.New()

	mqttClient, err := bus.Dial(cfg.MQTT, clientID, nil)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	defer mqttClient.Disconnect(250)
	publisher := bus.NewPublisher(mqttClient, cfg.MQTT.TopicNamespace(), clock.Real{}, m)
	logger.Info("Main", "publishing to %s and %s", publisher.Topics().Gesture, publisher.Topics().HandStatus)

	journal := st.NewJournal(256)
	defer journal.Close()

	pipeline, err := app.New(app.Config{
		Classifier: adapter,
		Sink:       publisher,
		Journal:    journal,
		Settings:   st.Settings(),
		Metrics:    m,
		Gesture: gesture.Config{
			Debounce:      cfg.Gesture.Debounce,
			HandTimeout:   cfg.Gesture.HandTimeout,
			ResetCooldown: cfg.Gesture.ResetCooldown,
		},
		Classify: cfg.Gesture.Classify,
	})
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	// Find web directory
	webDir := findWebDir()
	if webDir != "" {
		logger.Info("Main", "serving static files from %s", webDir)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.New(server.Config{
			StaticDir: webDir,
			Store:     st,
			App:       pipeline,
			Metrics:   m,
			Tick:      cfg.Gesture.Tick,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go store.Retention{
		Events:   st.Events(),
		MaxAge:   cfg.EventRetention,
		Interval: cfg.EventSweepInterval,
	}.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Main", "starting server on %s (model variant %s)", cfg.HTTPAddr, adapter.Active())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Main", "server failed: %v", err)
	}
	logger.Info("Main", "shutting down")
}

func resolveDBPath(path string) (string, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(homeDir, ".gestalyze", "gestalyze.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	return path, nil
}

// loadVariants loads every configured variant. A model file missing from disk
// falls back to the embedded sample of the same name.
func loadVariants(specs []string) ([]*classifier.Variant, error) {
	variants := make([]*classifier.Variant, 0, len(specs))
	for _, raw := range specs {
		spec, err := classifier.ParseSpec(raw)
		if err != nil {
			return nil, err
		}

		v, err := classifier.Load(spec)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Main", "model %s not found, using embedded %s", spec.Path, filepath.Base(spec.Path))
			embedded := spec
			embedded.Path = filepath.Base(spec.Path)
			v, err = classifier.LoadFS(models.FS, embedded)
		}
		if err != nil {
			return nil, err
		}
		logger.Info("Main", "loaded variant %s (%s, %d classes)", v.ID, v.Kind.Name(), len(v.Labels()))
		variants = append(variants, v)
	}
	return variants, nil
}

// activeVariant prefers the persisted variant when it is still loaded.
func activeVariant(st *store.Store, fallback string, variants []*classifier.Variant) string {
	persisted, err := st.Settings().Get(store.KeyModelVariant)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("Main", "read persisted variant: %v", err)
		}
		return fallback
	}
	for _, v := range variants {
		if v.ID == persisted {
			return persisted
		}
	}
	logger.Warn("Main", "persisted variant %s is not loaded, using %s", persisted, fallback)
	if err := st.Settings().Delete(store.KeyModelVariant); err != nil {
		logger.Warn("Main", "clear persisted variant: %v", err)
	}
	return fallback
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.gestalyze/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	// Check relative paths from current working directory
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".gestalyze", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
