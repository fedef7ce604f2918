package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"academy-ledger/internal/clients"
	"academy-ledger/internal/config"
	"academy-ledger/internal/repository"
	"academy-ledger/internal/service"
	"academy-ledger/internal/transport/auth"
	"academy-ledger/internal/transport/rest"
	"academy-ledger/internal/transport/websocket"
	"academy-ledger/pkg/database/postgres"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	db := mustInitPostgres(log, cfg.Postgres)
	redisClient := mustInitRedis(log, cfg.Redis)

	// exports are short-lived and cleaned up; invoices are kept
	exportStorage, err := clients.NewLocalStorage(cfg.ExportDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
	if err != nil {
		log.WithError(err).Fatal("export storage init error")
	}
	invoiceLocal, err := clients.NewLocalStorage(cfg.InvoiceDir, "/invoices", cfg.ExternalURL)
	if err != nil {
		log.WithError(err).Fatal("invoice storage init error")
	}
	invoiceStore := mustInitInvoiceStore(ctx, log, cfg, invoiceLocal)

	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	mailer := clients.NewMailer(clients.MailerConfig{
		Enabled:  cfg.SMTP.Enabled,
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, log)
	notifier := service.NewEmailNotifier(mailer)

	ledgerRepo := repository.NewLedgerRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	seqRepo := repository.NewInvoiceSequenceRepository(db)
	refRepo := repository.NewReferenceRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	incomeRepo := repository.NewIncomeRepository(db)
	tokenRepo := repository.NewPersonalAccessTokenRepository(db, log)

	paymentSvc := service.NewPaymentService(service.PaymentDeps{
		Ledgers:      ledgerRepo,
		Transactions: txRepo,
		References:   refRepo,
		Invoices:     invoiceRepo,
		Incomes:      incomeRepo,
		Fees: service.NewFeeResolver(refRepo, service.FeeDefaults{
			CourseRegistration:  cfg.Fees.CourseRegistration,
			StudentRegistration: cfg.Fees.StudentRegistration,
			DefaultCourseType:   cfg.Fees.DefaultCourseType,
		}),
		Sequencer:   service.NewInvoiceSequencer(seqRepo, cfg.Schedule.Location),
		Renderer:    service.NewInvoiceRenderer(invoiceStore),
		Notifier:    notifier,
		Broadcaster: wsClient,
		Schedule: service.ScheduleSettings{
			Location:     cfg.Schedule.Location,
			ReminderHour: cfg.Schedule.ReminderHour,
			LeadDays:     cfg.Schedule.LeadDays,
		},
		Log: log,
	})
	exportSvc := service.NewTransactionExportService(txRepo, redisClient, exportStorage, wsClient, log)
	exportListSvc := service.NewExportService(redisClient)
	idem := service.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
	reminderSvc := service.NewReminderService(ledgerRepo, refRepo, notifier, redisClient, cfg.Schedule.SweepBatch, log)

	sanctumMiddleware := auth.SanctumMiddleware(tokenRepo, log)

	handler := rest.NewHandler(paymentSvc, exportSvc, exportListSvc, idem, log)
	router := handler.InitRouterWithAuth(sanctumMiddleware)

	// public root router; the protected router is mounted underneath so
	// /files and /health stay public
	root := chi.NewRouter()

	root.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			rest.Error(w, "database unavailable", 503, http.StatusServiceUnavailable)
			return
		}
		rest.Success(w, "ok", nil)
	})

	root.Get("/files/{file}", serveStored(exportStorage))
	router.Get("/invoices/{file}", serveStored(invoiceLocal))

	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := auth.GetTenantID(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := auth.GetUserID(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		log.WithFields(logrus.Fields{"tenant_id": tenantID, "user_id": userID}).Info("websocket connected")
		wsHub.HandleWebSocket(w, r, tenantID, userID)
	})

	root.Mount("/", router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(root),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	// background cleaner for exports older than 30 minutes
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := exportStorage.CleanupOlderThan(30 * time.Minute); err != nil {
					log.WithError(err).Warn("storage cleanup error")
				}
			}
		}
	}()

	scheduler := cron.New(cron.WithLocation(cfg.Schedule.Location))
	if _, err := scheduler.AddFunc(cfg.Schedule.ReminderCron, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := reminderSvc.Sweep(sweepCtx, time.Now()); err != nil {
			log.WithError(err).Error("reminder sweep failed")
		}
	}); err != nil {
		log.WithError(err).WithField("spec", cfg.Schedule.ReminderCron).Fatal("invalid reminder schedule")
	}
	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.WithError(err).Error("HTTP server error")
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	// wait for a running sweep before closing its dependencies
	<-scheduler.Stop().Done()
	cancel()

	if err := postgres.Close(db); err != nil {
		log.WithError(err).Warn("postgres close error")
	}
	if err := redisClient.Close(); err != nil {
		log.WithError(err).Warn("redis close error")
	}

	log.Info("shutdown complete")
}

func mustInitPostgres(log *logrus.Logger, cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Password: cfg.Password,

		MaxOpenConns: cfg.MaxConns,
	})
	if err != nil {
		log.WithError(err).Fatal("postgres init error")
	}
	return db
}

func mustInitRedis(log *logrus.Logger, cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		PoolSize:    cfg.PoolSize,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.WithError(err).Fatal("redis init error")
	}
	return client
}

func mustInitInvoiceStore(ctx context.Context, log *logrus.Logger, cfg config.AppConfig, local *clients.StorageClient) service.FileStore {
	switch cfg.InvoiceStorage {
	case "local", "":
		return local
	case "s3":
		s3, err := clients.NewS3Client(ctx, clients.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			UseSSL:          cfg.S3.UseSSL,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			URLTTL:          cfg.S3.URLTTL,
		})
		if err != nil {
			log.WithError(err).Fatal("s3 init error")
		}
		return s3
	default:
		log.WithField("backend", cfg.InvoiceStorage).Fatal("unknown INVOICE_STORAGE")
		return nil
	}
}

func serveStored(store *clients.StorageClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, orig, err := store.Resolve(chi.URLParam(r, "file"))
		if errors.Is(err, clients.ErrFileNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, "failed to access file", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", orig))
		http.ServeFile(w, r, path)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Idempotency-Key")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
