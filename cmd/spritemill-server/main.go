package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spritemill/spritemill"
	"github.com/spritemill/spritemill/config"
	"github.com/spritemill/spritemill/server"
	"github.com/spritemill/spritemill/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func newLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == "release" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

func main() {
	cfg := config.New()

	log, err := newLogger(cfg.Server.Mode)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting spritemill server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	cache := server.NewCache(&cfg.Redis)
	if err := cache.Ping(context.Background()); err != nil {
		log.Warn("redis connection failed, cache disabled", zap.Error(err))
		cache = nil
	} else {
		log.Info("redis connected")
	}
	if cache != nil {
		defer cache.Close()
	}

	assets, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal("failed to open asset store", zap.Error(err))
	}
	defer assets.Close()

	pipeline := spritemill.NewPipeline(log)
	handler := server.NewHandler(cfg, log, pipeline, cache, assets)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(server.Logger(log))
	r.Use(server.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})
	handler.Register(r)

	log.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}
