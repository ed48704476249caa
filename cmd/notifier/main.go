package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"student_risk_notifier/internal/app"
	"student_risk_notifier/internal/domain/student"
	"student_risk_notifier/internal/infra/cache"
	"student_risk_notifier/internal/infra/config"
	idb "student_risk_notifier/internal/infra/database"
	"student_risk_notifier/internal/infra/email"
	"student_risk_notifier/internal/infra/logger"
	"student_risk_notifier/internal/infra/scheduler"
	"student_risk_notifier/internal/infra/sms"
	"student_risk_notifier/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"log_level":   cfg.LogLevel,
		"staff_ids":   len(cfg.AdminTelegramIDs),
	}).Info("Student risk notifier starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	if err := idb.Migrate(ctx, db); err != nil {
		mainLogger.WithError(err).Fatal("Could not apply database schema")
	}
	mainLogger.Info("Database connection established and schema applied")

	// Initialize Repositories
	notificationRepo := idb.NewPostgresNotificationRepository(db)
	studentRepo := idb.NewPostgresStudentRepository(db)
	riskEventRepo := idb.NewPostgresRiskEventRepository(db)
	deliveryRepo := idb.NewPostgresDeliveryRepository(db)

	// Optional student cache
	var studentCache student.Cache
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			mainLogger.WithError(err).Warn("Redis unavailable, continuing without student cache")
		} else {
			defer redisClient.Close()
			studentCache = cache.NewStudentCache(redisClient)
			mainLogger.WithField("ttl", cfg.StudentCacheTTL).Info("Student cache enabled")
		}
	}

	// Channel gateways
	smsGateway := sms.NewGateway(sms.Config{
		AccountSID:   cfg.SMSAccountSID,
		AuthToken:    cfg.SMSAuthToken,
		FromNumber:   cfg.SMSFromNumber,
		BaseURL:      cfg.SMSAPIBaseURL,
		CountryCode:  cfg.SMSCountryCode,
		BulkInterval: cfg.SMSBulkInterval,
		Timeout:      cfg.ChannelTimeout,
	}, &http.Client{Timeout: cfg.ChannelTimeout}, logger.Component("sms"))
	emailGateway := email.NewGateway(cfg.SMTPURL, cfg.EmailFrom, cfg.ChannelTimeout, logger.Component("email"))

	// Application services
	resolver := app.NewGuardianResolver(studentRepo, studentCache, cfg.StudentCacheTTL, logger.Component("resolver"))
	if studentCache != nil {
		contactListener, err := idb.NewContactChangeListener(cfg.DatabaseURL, resolver.Invalidate, logger.Component("contact_listener"))
		if err != nil {
			mainLogger.WithError(err).Warn("Contact change listener unavailable, cached students expire by TTL only")
		} else {
			go contactListener.Run(ctx)
		}
	}
	adminEscalator := app.NewAdminEscalator(resolver, notificationRepo, cfg.DedupWindow, logger.Component("admin_escalator"))
	guardianEscalator := app.NewGuardianEscalator(resolver, emailGateway, smsGateway, cfg.FanOutConcurrency, cfg.ChannelTimeout, logger.Component("guardian_escalator"))
	guardianEscalator.SetAttemptRepository(deliveryRepo)

	coordinator := app.NewBatchCoordinator(adminEscalator, guardianEscalator, logger.Component("coordinator"))
	coordinator.SetInbox(riskEventRepo)
	coordinator.SetDelivery(deliveryRepo, smsGateway, emailGateway, smsGateway)

	staffFeed := app.NewStaffFeed(notificationRepo, cfg.AdminTelegramIDs)

	// Optional Telegram staff surface
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		botLogger := logger.Component("telegram")
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		}
		bot, err = telebot.NewBot(pref)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}

		adminEscalator.SetPublisher(telegram.NewStaffAlertMirror(telegram.NewTelebotAdapter(bot), cfg.StaffTelegramChatID, botLogger))
		telegram.RegisterBotCommands(bot, staffFeed, botLogger)
		telegram.RegisterStaffHandlers(ctx, bot, staffFeed, botLogger)
		telegram.RegisterCallbackHandlers(ctx, bot, staffFeed, botLogger)
		telegram.RegisterEscalationHandlers(ctx, bot, staffFeed, coordinator, botLogger)

		// Start bot in a goroutine so it doesn't block graceful shutdown handling
		go bot.Start()
		mainLogger.Info("Telegram staff bot started")
	} else {
		mainLogger.Info("TELEGRAM_TOKEN not set, staff alerts are kept in the database only")
	}

	riskScheduler := scheduler.NewRiskScheduler(coordinator, scheduler.Specs{
		RiskInbox:    cfg.CronSpecRiskInbox,
		ReplayFailed: cfg.CronSpecReplayFailed,
		SMSStatus:    cfg.CronSpecSMSStatus,
	}, cfg.DedupWindow, logger.Component("scheduler"))
	if err := riskScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	mainLogger.WithFields(logrus.Fields{
		"email_enabled": emailGateway.Enabled(),
		"sms_enabled":   smsGateway.Enabled(),
	}).Info("Application setup complete")

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	riskScheduler.Stop()
	if bot != nil {
		bot.Stop()
	}
	coordinator.Wait()
	mainLogger.Info("Application shut down gracefully.")
}
