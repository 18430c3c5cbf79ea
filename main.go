// api/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pulsetrack/api/database"
	"pulsetrack/api/handlers"
	"pulsetrack/api/middleware"
	"pulsetrack/api/presence"
	"pulsetrack/api/realtime"
	"pulsetrack/api/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment")
	}

	initLogger()

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Postgres: users and funnel definitions ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize PostgreSQL database")
	}
	defer dbClient.Close()

	// --- ClickHouse: raw tracker events ---
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ClickHouse database")
	}
	defer chClient.Close()

	// --- Realtime bus: Redis when configured, in-process otherwise ---
	var bus realtime.Bus
	if os.Getenv("REDIS_ADDR") != "" {
		redisClient, err := database.NewRedisClient()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis")
		}
		defer redisClient.Close()
		bus = realtime.NewRedisBus(redisClient.Client)
	} else {
		log.Info().Msg("REDIS_ADDR not set, using in-process realtime bus")
		bus = realtime.NewMemoryBus()
	}
	defer bus.Close()

	userStore := store.NewUserStore(dbClient.DB)
	analyticsStore := store.NewAnalyticsStore(chClient)
	funnelStore := store.NewFunnelStore(dbClient.DB)

	engine := presence.NewEngine(bus)

	authHandlers := handlers.NewAuthHandlers(userStore)
	analyticsHandlers := handlers.NewAnalyticsHandlers(analyticsStore, engine)
	funnelHandlers := handlers.NewFunnelHandlers(funnelStore, analyticsStore)
	liveHandlers := handlers.NewLiveHandlers(engine, bus, analyticsStore)

	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Live sockets authenticate by website key at the tracker level,
		// not by dashboard JWT; the dashboard app proxies its token via
		// the websocket handshake cookie.
		api.GET("/live/visitor", liveHandlers.VisitorSocket)
		api.GET("/live/dashboard", liveHandlers.DashboardSocket)

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.POST("/track", analyticsHandlers.TrackEvents)

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/event-counts", analyticsHandlers.GetEventCountsOverTime)
				statsGroup.GET("/unique-visitors", analyticsHandlers.GetUniqueVisitorsOverTime)
				statsGroup.GET("/top-paths", analyticsHandlers.GetTopPagePaths)
			}

			funnelGroup := protected.Group("/funnels")
			{
				funnelGroup.POST("", funnelHandlers.CreateFunnel)
				funnelGroup.GET("", funnelHandlers.ListFunnels)
				funnelGroup.GET("/:id", funnelHandlers.GetFunnel)
				funnelGroup.DELETE("/:id", funnelHandlers.DeleteFunnel)
				funnelGroup.GET("/:id/stats", funnelHandlers.GetFunnelStats)
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", port).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

func initLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().
			Str("service", "pulsetrack-api").
			Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "pulsetrack-api").
		Logger()
}
