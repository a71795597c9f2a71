package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/calvinwijaya/solitaire-be/internal/api"
	"github.com/calvinwijaya/solitaire-be/internal/config"
	"github.com/calvinwijaya/solitaire-be/internal/db"
	"github.com/calvinwijaya/solitaire-be/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	// Parse command line flags
	var (
		port        = flag.String("port", "8080", "Server port")
		dbDriver    = flag.String("db-driver", "sqlite3", "Database driver: sqlite3, sqlite or postgres")
		dbDSN       = flag.String("db", "./data/solitaire.db", "Database path or connection string; empty disables stats")
		frontendURL = flag.String("frontend", "http://localhost:5173", "Frontend URL for CORS")
		configPath  = flag.String("config", "", "Optional JSON game config (scoring, recycling, default mode)")
	)
	flag.Parse()

	gameConfig, err := config.LoadGameConfig(*configPath)
	if err != nil {
		klog.Fatalf("Failed to load game config: %v", err)
	}

	// Initialize the store
	sessionStore := store.NewMemoryStore()
	klog.Info("In-memory session store initialized")

	// Initialize the database
	var database *db.Database
	if *dbDSN != "" {
		if *dbDriver != "postgres" {
			if err := os.MkdirAll(filepath.Dir(*dbDSN), 0755); err != nil {
				klog.Fatalf("Failed to create data directory: %v", err)
			}
		}
		database, err = db.NewDatabase(*dbDriver, *dbDSN)
		if err != nil {
			klog.Warningf("Failed to initialize database: %v", err)
			klog.Warning("Continuing without stats or leaderboard")
			database = nil
		} else {
			klog.Infof("Database initialized (%s)", *dbDriver)
			defer database.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize WebSocket hub
	hub := api.NewHub()
	go hub.Run(ctx)
	klog.Info("WebSocket hub started")

	handlers := api.NewHandlers(sessionStore, database, hub, gameConfig)

	// Set up router
	r := mux.NewRouter()
	handlers.RegisterRoutes(r)

	// Add middleware for logging
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			klog.V(1).Infof("%s %s %s", r.Method, r.RequestURI, time.Since(start))
		})
	})

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{*frontendURL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		klog.Infof("Starting server on port %s", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Fatalf("Server error: %v", err)
		}
	}()

	// Block until we receive a termination signal
	<-ctx.Done()
	klog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("Graceful shutdown failed: %v", err)
	}

	// Let in-flight stats writes land before the database closes.
	sessions, _ := sessionStore.ListSessions()
	for _, s := range sessions {
		s.Wait()
	}
}
