package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetandmore-server/config"
	"meetandmore-server/consumers"
	"meetandmore-server/queue"
	"meetandmore-server/routes"
	"meetandmore-server/scheduler"
	"meetandmore-server/services"
	"meetandmore-server/storage"
	"meetandmore-server/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"
)

func main() {
	godotenv.Load()
	storage.InitializeDB()
	storage.InitializeRedis()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := queue.NewBroker(storage.Redis)

	notifications := services.NewNotificationService(storage.DB, broker, cfg.OperatorEmail)
	gateway := services.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	refunds := services.NewRefundService(storage.DB, broker, gateway, notifications)
	referrals := services.NewReferralService(notifications)
	settlement := services.NewSettlementService(storage.DB, broker, refunds, notifications, referrals)

	sched := scheduler.New(storage.DB, storage.Redis, broker, cfg.SchedulerLockTTL, cfg.SchedulerMarkerTTL)
	dates := services.NewDateService(storage.DB, sched)

	mailer := utils.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	push := utils.NewExpoPushSender()

	consumers.RegisterAll(ctx, cfg, consumers.Deps{
		DB:            storage.DB,
		Broker:        broker,
		Settlement:    settlement,
		Notifications: notifications,
		Mailer:        mailer,
		Push:          push,
	})

	if err := dates.EnsureAllCities(ctx); err != nil {
		log.WithError(err).Error("Initial date generation failed")
	}
	sched.Run(ctx, cfg.SchedulerSweepEvery)

	app := iris.New()
	app.Validator = validator.New()
	app.Use(iris.Compression)

	routes.Register(app, routes.Deps{
		Settlement: settlement,
		Refunds:    refunds,
		Dates:      dates,
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.Shutdown(shutdownCtx)
	}()

	addr := cfg.HTTPAddr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Info("Server stopped")
	}
}
