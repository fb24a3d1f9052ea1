package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cropsight/config"
	"cropsight/internal/api/handlers"
	"cropsight/internal/api/middleware"
	"cropsight/internal/auth"
	"cropsight/internal/cleanup"
	"cropsight/internal/core/processor"
	"cropsight/internal/db"
	"cropsight/internal/db/repository"
	"cropsight/internal/integrations/leafmodel"
	"cropsight/internal/integrations/mqtt"
	"cropsight/internal/logger"
	"cropsight/internal/server/sse"
	"cropsight/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	defer logger.Close()

	log.Info("Initializing database...")
	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Info("Database initialization complete")

	repo := repository.NewGormRepository(database)
	tokens := auth.NewTokenService(cfg.Auth)

	// Live update hub
	sseHub := sse.NewHub()
	go sseHub.Run()

	// Optional MQTT publisher; analysis continues without a broker
	publisher := mqtt.NewPublisher(cfg.MQTT)
	if err := publisher.Start(); err != nil {
		log.Warnf("MQTT publisher unavailable, continuing without it: %v", err)
	}
	defer publisher.Stop()

	// Analysis pipeline
	modelClient := leafmodel.NewClient(cfg.Model)
	analyzer := processor.NewAnalyzer(database, cfg, modelClient, sseHub, publisher)
	pool := processor.NewWorkerPool(analyzer)
	defer pool.Shutdown()

	// Domain services
	farmService := services.NewFarmService(database)
	requestService := services.NewRequestService(database, cfg, analyzer, pool)

	// Background upload cleanup
	cleanupService := cleanup.NewService(repo, cfg)
	cleanupService.Start()
	defer cleanupService.Stop()

	// HTTP router
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	authHandler := handlers.NewAuthHandler(repo, tokens)
	farmHandler := handlers.NewFarmHandler(farmService)
	requestHandler := handlers.NewRequestHandler(requestService)
	imageHandler := handlers.NewImageHandler(cfg)
	eventHandler := handlers.NewEventHandler(sseHub)
	systemHandler := handlers.NewSystemHandler(pool, modelClient)

	// Stored image files live at the router root. publicImageURL appends the
	// relative file path straight to public_url, so the serving route must
	// not carry the /api prefix or the detection service fetches 404s.
	imageHandler.RegisterRoutes(router.Group("/"))

	// Public API routes
	public := router.Group("/api")
	authHandler.RegisterRoutes(public)

	// Everything else requires a valid token
	protected := router.Group("/api")
	protected.Use(middleware.RequireAuth(tokens, repo))
	authHandler.RegisterProtectedRoutes(protected)
	farmHandler.RegisterRoutes(protected)
	requestHandler.RegisterRoutes(protected)
	eventHandler.RegisterRoutes(protected)
	systemHandler.RegisterRoutes(protected)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
