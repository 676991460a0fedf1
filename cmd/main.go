package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"photoassets/internal/derivative"
	"photoassets/internal/exif"
	"photoassets/internal/logger"
	"photoassets/internal/models"
	"photoassets/internal/server"
	"photoassets/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg, "photoassets")

	catalog, err := derivative.CatalogFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid derivative catalog")
	}
	gen := derivative.New(cfg.AssetsPath, catalog,
		derivative.WithPublicPrefix(cfg.PublicPrefix),
		derivative.WithAutoOrient(cfg.AutoOrient),
		derivative.WithLogger(log),
	)
	if err := gen.EnsureLayout(); err != nil {
		log.Fatal().Err(err).Msg("asset root unusable")
	}
	extractor := exif.NewExtractor(cfg.TextMaxLength, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store server.PhotoStore
	if cfg.DatabaseURL != "" {
		db, err := storage.NewStorage(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init storage")
		}
		defer db.Close()
		store = db
	} else {
		log.Warn().Msg("database_url not set, photo records are not persisted")
	}

	var publisher server.Publisher
	var queue server.Enqueuer
	if cfg.KafkaBroker != "" {
		if cfg.KafkaResultTopic != "" {
			results := server.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaResultTopic)
			defer results.Close()
			publisher = results
		}
		uploads := server.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		defer uploads.Close()
		queue = uploads
	}

	pipeline := server.NewPipeline(gen, extractor, store, publisher, log)

	scheduler, err := server.NewScheduler(cfg, gen, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid schedule")
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	srv := server.NewServer(cfg, server.Deps{
		Generator: gen,
		Extractor: extractor,
		Processor: pipeline,
		Store:     store,
		Queue:     queue,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.KafkaBroker != "" {
		consumer := server.NewConsumer(cfg, pipeline, log)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		return
	}
	log.Info().Msg("service stopped")
}
