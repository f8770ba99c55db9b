// The worker consumes campaign dispatch jobs from RabbitMQ and runs the
// batch dispatcher, for deployments where the API plane and the dispatch
// plane are separate processes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bitpanel/notification-service/internal/config"
	"github.com/bitpanel/notification-service/internal/db"
	"github.com/bitpanel/notification-service/internal/logging"
	"github.com/bitpanel/notification-service/internal/memorystore"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/queue"
	"github.com/bitpanel/notification-service/internal/repository"
	"github.com/bitpanel/notification-service/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()
	campaignRepo := &repository.PostgresCampaignRepository{DB: conn}

	adapters := service.NewAdapterRegistry()
	for _, ch := range []model.Channel{model.ChannelPush, model.ChannelEmail, model.ChannelSMS, model.ChannelInApp} {
		adapters.Register(ch, service.NewSimAdapter(ch, 0.1, 0, log))
	}
	resolver := &service.AudienceResolver{
		Directory: &repository.PostgresDirectory{DB: conn, PageSize: 100},
		Uploads:   memorystore.NewUploads(),
		Retries:   cfg.Dispatch.ResolveRetries,
		Backoff:   cfg.Dispatch.ResolveBackoff,
		Log:       log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := service.NewDispatcher(cfg.Dispatch, campaignRepo, resolver, adapters, nil, log)
	dispatcher.Start(ctx)

	q, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("amqp connection failed")
	}
	defer q.Close()

	if err := q.Subscribe(queue.TopicDispatch, func(job queue.Job) error {
		dispatcher.Enqueue(job.CampaignID, job.Priority)
		return nil
	}); err != nil {
		log.Fatal().Err(err).Msg("dispatch subscription failed")
	}

	log.Info().Msg("worker running, waiting for dispatch jobs")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dispatcher.Stop(shutdownCtx)
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
