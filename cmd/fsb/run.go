package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tgarchive/config"
	"tgarchive/internal/bot"
	"tgarchive/internal/cache"
	"tgarchive/internal/ingest"
	"tgarchive/internal/logging"
	"tgarchive/internal/metadata"
	"tgarchive/internal/routes"
	"tgarchive/internal/session"
	"tgarchive/internal/stream"
	"tgarchive/internal/types"
	"tgarchive/internal/upstream"
	"tgarchive/internal/utils"
)

const versionString = "1.0.0"

var runCmd = &cobra.Command{
	Use:                "run",
	Short:              "Run the archive/streaming server with the given configuration.",
	DisableSuggestions: false,
	Run:                runApp,
}

var startTime = time.Now()

func runApp(cmd *cobra.Command, args []string) {
	logging.InitLogger(false, "info", "")
	log := logging.Logger
	mainLogger := log.Named("Main")
	mainLogger.Info("Starting server")
	config.Load(log, cmd)

	// Re-initialize now that config (dev mode, log level, log file) is loaded.
	logging.InitLogger(config.ValueOf.Dev, config.ValueOf.LogLevel, config.ValueOf.LogFile)
	log = logging.Logger
	mainLogger = log.Named("Main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache.InitCache(log)

	mainClient, err := bot.StartClient(log)
	if err != nil {
		mainLogger.Panic("failed to start main bot", zap.Error(err))
	}
	workers, err := bot.StartWorkers(log)
	if err != nil {
		mainLogger.Panic("failed to start worker bots", zap.Error(err))
	}
	workers.AddDefaultClient(mainClient, mainClient.Self)

	defaultWorker := bot.GetDefaultWorker()
	upstreamClient := upstream.New(defaultWorker, log)
	if err := upstreamClient.Start(ctx); err != nil {
		mainLogger.Panic("failed to start upstream client", zap.Error(err))
	}

	metaStore, err := metadata.Connect(ctx, config.ValueOf.MongoURI, config.ValueOf.MongoDBName, log)
	if err != nil {
		mainLogger.Panic("failed to connect to metadata store", zap.Error(err))
	}
	metaStore.EnsureIndexes(ctx)

	pool := session.New(upstreamClient, log)
	blobTimeout := time.Duration(config.ValueOf.BlobTimeoutSeconds) * time.Second
	engine := stream.New(upstreamClient, pool, blobTimeout, log)

	indexer := ingest.New(upstreamClient, metaStore, ingest.Options{
		ArchiveChannelID: config.ValueOf.ArchiveChannelID,
		PublicBaseURL:    config.ValueOf.PublicBaseURL,
		ScratchDir:       config.ValueOf.ScratchDir,
		MaxFileSizeMiB:   config.ValueOf.MaxFileSizeMiB,
		MaxDurationHours: config.ValueOf.MaxDurationHours,
	}, log)
	_ = indexer // wired into the bot's upload/URL command handlers, out of scope here

	router := getRouter(log, metaStore, engine, pool)
	statusRouter := getStatusRouter(log)

	mainLogger.Info("server started",
		zap.Int("mainPort", config.ValueOf.Port), zap.Int("statusPort", config.ValueOf.StatusPort))
	mainLogger.Info("archive/streaming server", zap.String("version", versionString))
	mainLogger.Sugar().Infof("main server is running at %s", config.ValueOf.Host)
	mainLogger.Sugar().Infof("status server is running at http://0.0.0.0:%d/status", config.ValueOf.StatusPort)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", config.ValueOf.Port), Handler: router}
	statusSrv := &http.Server{Addr: fmt.Sprintf(":%d", config.ValueOf.StatusPort), Handler: statusRouter}

	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Named("StatusServer").Sugar().Fatalln("failed to start status server:", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.Sugar().Fatalln(err)
		}
	}()

	// Block until SIGINT/SIGTERM, then drain in the order spec.md §9
	// requires: stop accepting new HTTP work, let in-flight streams
	// finish (or be cancelled by their own request context), then close
	// the session pool and metadata handle.
	<-ctx.Done()
	mainLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = statusSrv.Shutdown(shutdownCtx)

	pool.Close()
	if err := metaStore.Close(shutdownCtx); err != nil {
		mainLogger.Warn("error closing metadata store", zap.Error(err))
	}
	mainLogger.Info("shutdown complete")
}

func getRouter(log *zap.Logger, store *metadata.Store, engine *stream.Engine, pool *session.Pool) *gin.Engine {
	if config.ValueOf.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var router *gin.Engine
	if config.ValueOf.LogLevel == "error" || config.ValueOf.LogLevel == "warn" {
		router = gin.New()
		router.Use(gin.Recovery())
		router.Use(gin.ErrorLogger())
	} else {
		router = gin.Default()
		router.Use(gin.ErrorLogger())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.RootResponse{
			Message: "Server is running.",
			Ok:      true,
			Uptime:  utils.TimeFormat(uint64(time.Since(startTime).Seconds())),
			Version: versionString,
		})
	})
	routes.Load(log, router, store, engine, pool)
	return router
}

func getStatusRouter(log *zap.Logger) *gin.Engine {
	if config.ValueOf.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var router *gin.Engine
	if config.ValueOf.LogLevel == "error" || config.ValueOf.LogLevel == "warn" {
		router = gin.New()
		router.Use(gin.Recovery())
	} else {
		router = gin.Default()
	}
	routes.LoadStatusOnly(log, router)
	return router
}
