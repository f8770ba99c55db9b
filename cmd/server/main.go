package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bitpanel/notification-service/internal/config"
	"github.com/bitpanel/notification-service/internal/db"
	"github.com/bitpanel/notification-service/internal/handler"
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

	// Postgres when configured, in-memory stores otherwise.
	var (
		campaignRepo repository.CampaignRepository
		templateRepo repository.TemplateRepository
		directory    service.Directory
	)
	if cfg.DB.Name != "" {
		conn, err := db.Open(cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer conn.Close()
		campaignRepo = &repository.PostgresCampaignRepository{DB: conn}
		templateRepo = &repository.PostgresTemplateRepository{DB: conn}
		directory = &repository.PostgresDirectory{DB: conn, PageSize: 100}
		log.Info().Str("host", cfg.DB.Host).Str("db", cfg.DB.Name).Msg("connected to postgres")
	} else {
		campaignRepo = memorystore.NewCampaignStore()
		templateRepo = memorystore.NewTemplateStore()
		directory = memorystore.NewDemoDirectory(100)
		log.Warn().Msg("DB_NAME not set; using in-memory stores with demo segments")
	}

	adapters := service.NewAdapterRegistry()
	for _, ch := range []model.Channel{model.ChannelPush, model.ChannelEmail, model.ChannelSMS, model.ChannelInApp} {
		adapters.Register(ch, service.NewSimAdapter(ch, 0.1, 0, log))
	}

	resolver := &service.AudienceResolver{
		Directory: directory,
		Uploads:   memorystore.NewUploads(),
		Retries:   cfg.Dispatch.ResolveRetries,
		Backoff:   cfg.Dispatch.ResolveBackoff,
		Log:       log,
	}
	templateSvc := &service.TemplateService{Templates: templateRepo, Log: log}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := service.NewDispatcher(cfg.Dispatch, campaignRepo, resolver, adapters, nil, log)
	dispatcher.Start(ctx)

	var q queue.Queue
	if cfg.Dispatch.Mode == "amqp" {
		amqpQ, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection failed")
		}
		defer amqpQ.Close()
		q = amqpQ
		log.Info().Str("url", cfg.AMQP.URL).Msg("dispatching over amqp")
	} else {
		q = queue.NewInMemoryQueue()
	}
	if err := q.Subscribe(queue.TopicDispatch, func(job queue.Job) error {
		dispatcher.Enqueue(job.CampaignID, job.Priority)
		return nil
	}); err != nil {
		log.Fatal().Err(err).Msg("dispatch subscription failed")
	}

	scheduler := service.NewScheduler(campaignRepo, &queue.DispatchPublisher{Q: q, Log: log},
		cfg.Dispatch.GraceWindow, cfg.Dispatch.RescanEvery, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}

	poller := service.NewStatusPoller(campaignRepo, cfg.Dispatch.PollEvery, log)
	if err := poller.Start(); err != nil {
		log.Fatal().Err(err).Msg("poller start failed")
	}

	campaignSvc := &service.CampaignService{
		Campaigns:       campaignRepo,
		Templates:       templateSvc,
		Scheduler:       scheduler,
		Dispatcher:      dispatcher,
		Poller:          poller,
		GraceWindow:     cfg.Dispatch.GraceWindow,
		DefaultInterval: cfg.Dispatch.DefaultInterval,
		Log:             log,
	}

	h := &handler.Handler{Service: campaignSvc, Log: log}
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: h.Routes()}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	scheduler.Stop()
	poller.Stop()
	dispatcher.Stop(shutdownCtx)
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
