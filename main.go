package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invoicesnap-backend/billing"
	"invoicesnap-backend/config"
	"invoicesnap-backend/controllers"
	"invoicesnap-backend/database"
	"invoicesnap-backend/delivery"
	"invoicesnap-backend/logger"
	"invoicesnap-backend/mailer"
	"invoicesnap-backend/middlewares"
	"invoicesnap-backend/pdf"
	"invoicesnap-backend/routes"
	"invoicesnap-backend/services"
	"invoicesnap-backend/tasks"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	modeAPI       = "api"
	modeWorker    = "worker"
	modeScheduler = "scheduler"
	modeAll       = "all"
	modeSweep     = "sweep"
)

func main() {
	mode := flag.String("mode", modeAll, "api | worker | scheduler | all | sweep")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, cfg, log); err != nil {
		log.Fatal("exit", zap.String("mode", *mode), zap.Error(err))
	}
}

// app is the wired object graph shared by every mode.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	rdb      *redis.Client
	redisUp  bool
	invoices *services.InvoiceService
	gate     *services.SubscriptionGate
	disp     *delivery.Dispatcher
	sweep    *services.OverdueSweep
	renderer *pdf.Renderer
	client   *asynq.Client
}

func run(ctx context.Context, mode string, cfg *config.Config, log *zap.Logger) error {
	switch mode {
	case modeAPI, modeWorker, modeScheduler, modeAll, modeSweep:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if mode == modeAPI || mode == modeAll {
		if err := cfg.RequireAPI(); err != nil {
			return err
		}
	}

	a, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if mode == modeSweep {
		report, err := a.sweep.Run(ctx, time.Now().In(cfg.Location()))
		if err != nil {
			return err
		}
		log.Info("sweep done", zap.Int("flipped", report.Flipped), zap.Int("enqueued", report.Enqueued))
		return nil
	}

	if (mode == modeWorker || mode == modeScheduler) && !a.redisUp {
		return errors.New("redis is required for " + mode + " mode")
	}

	errc := make(chan error, 3)
	var stops []func()

	if mode == modeWorker || (mode == modeAll && a.redisUp) {
		srv, mux := tasks.SetupServer(tasks.RedisOpt(a.rdb), tasks.NewProcessor(a.disp, a.sweep, cfg.Location(), log), cfg.WorkerConcurrency, a.retryPolicy(), log)
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		log.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		stops = append(stops, srv.Shutdown)
	}

	if mode == modeScheduler || (mode == modeAll && a.redisUp) {
		sch, err := tasks.NewScheduler(tasks.RedisOpt(a.rdb), cfg.SweepCron, cfg.Location(), log)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := sch.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		stops = append(stops, sch.Shutdown)
	}

	if mode == modeAPI || mode == modeAll {
		api := a.httpApp()
		go func() {
			log.Info("API server starting", zap.String("port", cfg.Port))
			errc <- api.Listen(":" + cfg.Port)
		}()
		stops = append(stops, func() {
			if err := api.ShutdownWithTimeout(10 * time.Second); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
		})
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
	}
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	return err
}

func wire(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	db, err := database.Connect(cfg.DSN(), log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	if created, err := database.EnsureAdmin(db, cfg.AdminEmail, cfg.AdminPassword, cfg.TrialDays); err != nil {
		return nil, err
	} else if created {
		log.Info("admin account bootstrapped", zap.String("email", cfg.AdminEmail))
	}

	a := &app{cfg: cfg, log: log, db: db, renderer: pdf.NewRenderer()}
	a.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, deliveries run inline", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		a.redisUp = true
	}

	sender, err := a.mailSender()
	if err != nil {
		return nil, err
	}

	composer := delivery.NewComposer(cfg.MailFrom, cfg.MailFromName)
	a.invoices = services.NewInvoiceService(db, log)
	a.gate = services.NewSubscriptionGate(db, cfg.TrialDays, log)
	a.disp = delivery.NewDispatcher(a.invoices, a.renderer, sender, composer, cfg.SendTimeout, log)

	var reminders services.ReminderQueue
	if cfg.DeliveryMode == config.DeliveryAsync && a.redisUp {
		a.client = asynq.NewClient(tasks.RedisOpt(a.rdb))
		queue := tasks.NewQueue(a.client, cfg.MaxAttempts, log)
		a.invoices.UseDeliverer(queue)
		reminders = queue
	} else {
		runner := delivery.NewSyncRunner(a.disp, delivery.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.SyncRetryBaseDelay}, cfg.SendTimeout, log)
		a.invoices.UseDeliverer(runner)
		reminders = runner
	}
	a.sweep = services.NewOverdueSweep(db, reminders, log).
		WithNotifier(delivery.NewDigest(a.invoices, sender, composer, cfg.MailFailLoudly, log))
	return a, nil
}

func (a *app) mailSender() (mailer.Sender, error) {
	switch a.cfg.MailDriver {
	case config.MailBrevo:
		return mailer.NewBrevoSender(a.cfg.BrevoBaseURL, a.cfg.BrevoAPIKey, a.cfg.SendTimeout, a.log), nil
	case config.MailRedis:
		if !a.redisUp {
			return nil, errors.New("MAIL_DRIVER=redis requires a reachable redis")
		}
		return mailer.NewRedisSender(a.rdb, 24*time.Hour), nil
	}
	return mailer.NewLoggingSender(a.log), nil
}

func (a *app) retryPolicy() delivery.Policy {
	return delivery.Policy{MaxAttempts: a.cfg.MaxAttempts, BaseDelay: a.cfg.RetryBaseDelay}
}

func (a *app) httpApp() *fiber.App {
	cfg := a.cfg
	provider := billing.NewStripe(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceID:       cfg.StripePriceID,
	})

	ctl := &controllers.Controller{
		Accounts:  services.NewAccountService(a.db, a.gate, cfg.TrialDays, a.log),
		Clients:   services.NewClientService(a.db, a.log),
		Invoices:  a.invoices,
		Billing:   services.NewBillingService(a.db, provider, a.gate, cfg.SiteURL, cfg.PremiumMonthlyPrice, a.log),
		Admin:     services.NewAdminService(a.db, a.gate, cfg.PremiumMonthlyPrice, a.log),
		Renderer:  a.renderer,
		JWTSecret: []byte(cfg.JWTSecret),
		JWTTTL:    cfg.JWTTTL,
		Log:       a.log,
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.NewErrorHandler(a.log),
		BodyLimit:    cfg.BodyLimitBytes,
	})
	app.Use(recover.New())
	app.Use(middlewares.RequestLogger(a.log))

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key, Stripe-Signature",
	}))

	// ---- Global rate limiter (applies to all routes; tune via env)
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow,
	}))

	routes.Register(app, ctl, routes.Deps{DB: a.db, Gate: a.gate, Log: a.log})
	return app
}

func (a *app) close() {
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("database close", zap.Error(err))
	}
}
