package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/astrv/library-rental/config"
	"github.com/astrv/library-rental/internal/gateway"
	"github.com/astrv/library-rental/internal/handler"
	"github.com/astrv/library-rental/internal/notifier"
	"github.com/astrv/library-rental/internal/repository"
	"github.com/astrv/library-rental/internal/server"
	"github.com/astrv/library-rental/internal/service"
	"github.com/astrv/library-rental/internal/worker"
	"github.com/astrv/library-rental/migrations"
	"github.com/astrv/library-rental/pkg/kafka"
	"github.com/astrv/library-rental/pkg/logger"
	"github.com/astrv/library-rental/pkg/postgres"
)

func Run(cfg *config.Config) error {
	log := logger.NewLogger(cfg.Log, "library-rental")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.NewPostgresDB(ctx, &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		return fmt.Errorf("db init %v", err)
	}
	repo, err := repository.NewRepository(db, log)
	if err != nil {
		return fmt.Errorf("repo %v", err)
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("kafka.NewProducer %v", err)
	}
	notify := notifier.NewProducer(producer, log)

	gw := gateway.NewClient(log, cfg.Gateway)
	svc := service.NewService(repo, gw, notify, cfg.Service, log)

	consumer, err := kafka.NewConsumer(cfg.Kafka, kafka.NotifierConsumerGroup)
	if err != nil {
		return fmt.Errorf("kafka.NewConsumer %v", err)
	}
	telegram := notifier.NewTelegram(log, cfg.Telegram)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kafka.Consume(gCtx, consumer, handler.NewConsumer(telegram.SendText, log), kafka.NotifyTopic)
	})
	g.Go(func() error {
		worker.New(svc, cfg.Worker, log).Run(gCtx)
		return nil
	})

	h := handler.New(svc, cfg.Webhook, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second*5)
	defer closeCancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.Error("srv.Stop", zap.Error(err))
	}
	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("background workers", zap.Error(err))
	}
	if err = consumer.Close(); err != nil {
		log.Error("consumer.Close", zap.Error(err))
	}
	if err = producer.Close(); err != nil {
		log.Error("producer.Close", zap.Error(err))
	}
	db.Close()
	log.Info("Graceful shutdown finished")
	return nil
}
