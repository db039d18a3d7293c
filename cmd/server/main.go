package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jhonslife/giro-license-server/internal/activation"
	"github.com/jhonslife/giro-license-server/internal/config"
	"github.com/jhonslife/giro-license-server/internal/handlers"
	appMiddleware "github.com/jhonslife/giro-license-server/internal/middleware"
	"github.com/jhonslife/giro-license-server/internal/metrics"
	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/ratelimit"
	"github.com/jhonslife/giro-license-server/internal/repository"
	"github.com/jhonslife/giro-license-server/internal/scheduler"
	"github.com/jhonslife/giro-license-server/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := repository.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := repository.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	licenseRepo := repository.NewLicenseRepository(db)

	// Services
	authService := services.NewAuthService(db, redis, cfg.JWTSecret)
	licenseService := services.NewLicenseService(licenseRepo, cfg.LicensePrivateKey, cfg.LicenseIssuer)
	userService := services.NewUserService(db)
	telemetryService := services.NewTelemetryService(db, redis)

	billingService := services.NewBillingService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	billingService.SetDB(db)
	billingService.SetPriceIDs(map[models.PlanType]string{
		models.PlanMonthly:    cfg.StripePriceIDMonthly,
		models.PlanSemiannual: cfg.StripePriceIDSemiannual,
		models.PlanAnnual:     cfg.StripePriceIDAnnual,
		models.PlanLifetime:   cfg.StripePriceIDLifetime,
	})

	emailService, err := services.NewEmailService(services.EmailConfig{
		Provider:       getEnv("EMAIL_PROVIDER", ""),
		FromAddress:    cfg.SMTPFrom,
		FromName:       "GIRO",
		BaseURL:        getEnv("APP_BASE_URL", "https://app.giro.io"),
		SMTPHost:       cfg.SMTPHost,
		SMTPPort:       cfg.SMTPPort,
		SMTPUser:       cfg.SMTPUser,
		SMTPPassword:   cfg.SMTPPassword,
		ResendAPIKey:   getEnv("RESEND_API_KEY", ""),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
	})
	if err != nil {
		log.Fatalf("Failed to initialize email service: %v", err)
	}

	limiter := ratelimit.NewLimiter(redis.Client(), cfg.RateLimitActivationPerMin, cfg.RateLimitValidationPerMin)
	activationService := activation.NewService(licenseRepo, limiter, cfg.ClockDriftTolerance)

	expirySweep := scheduler.New(licenseRepo)
	if err := expirySweep.Start(cfg.LicenseExpirySweepCron); err != nil {
		log.Fatalf("Failed to start license expiry sweep: %v", err)
	}
	defer expirySweep.Stop()

	var downloadService *services.DownloadService
	if cfg.DownloadsBucket != "" {
		downloadService, err = services.NewDownloadService(context.Background(), services.DownloadConfig{
			Region:    cfg.DownloadsRegion,
			Bucket:    cfg.DownloadsBucket,
			KeyPrefix: "releases/",
			URLExpiry: time.Hour,
		})
		if err != nil {
			log.Fatalf("Failed to initialize download service: %v", err)
		}
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, emailService)
	authHandler.SetLicenseService(licenseService)
	licenseHandler := handlers.NewLicenseHandler(licenseService)
	activationHandler := activation.NewHandler(activationService)
	billingHandler := handlers.NewBillingHandler(billingService, licenseService, userService, emailService)
	userHandler := handlers.NewUserHandler(userService)
	telemetryHandler := handlers.NewTelemetryHandler(telemetryService)
	healthHandler := handlers.NewHealthHandler(db, redis)

	var downloadHandler *handlers.PersonalizedDownloadHandler
	if downloadService != nil {
		downloadHandler = handlers.NewPersonalizedDownloadHandler(downloadService, licenseService)
	}

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Get("/health/detailed", healthHandler.Detailed)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.RefreshToken)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/cli-login", authHandler.CLILogin)
		})

		// Activation, validation and restore (called from terminals/satellites)
		r.Route("/license", func(r chi.Router) {
			r.Post("/activate", activationHandler.Activate)
			r.Post("/validate", activationHandler.Validate)
			r.Post("/restore", activationHandler.Restore)
		})

		// Stripe webhooks (signature-verified, not auth-gated)
		r.Post("/webhooks/stripe", billingHandler.HandleWebhook)

		// Telemetry ingestion from fleet terminals
		r.Post("/telemetry", telemetryHandler.Receive)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Auth(authService))

			r.Route("/user", func(r chi.Router) {
				r.Get("/", userHandler.GetProfile)
				r.Put("/", userHandler.UpdateProfile)
				r.Put("/password", userHandler.ChangePassword)
			})

			r.Route("/licenses", func(r chi.Router) {
				r.Get("/", licenseHandler.List)
				r.Post("/", licenseHandler.Create)
				r.Get("/{key}", licenseHandler.Get)
				r.Delete("/{key}", licenseHandler.Revoke)
				r.Post("/{key}/transfer", licenseHandler.Transfer)
			})

			r.Route("/billing", func(r chi.Router) {
				r.Get("/subscription", billingHandler.GetSubscription)
				r.Post("/subscription", billingHandler.CreateSubscription)
				r.Put("/subscription", billingHandler.UpdateSubscription)
				r.Delete("/subscription", billingHandler.CancelSubscription)
				r.Get("/invoices", billingHandler.ListInvoices)
				r.Get("/payment-methods", billingHandler.ListPaymentMethods)
				r.Post("/payment-methods", billingHandler.AddPaymentMethod)
				r.Delete("/payment-methods/{id}", billingHandler.RemovePaymentMethod)
				r.Post("/portal-session", billingHandler.CreatePortalSession)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/stats", telemetryHandler.GetStats)
				r.Get("/usage", telemetryHandler.GetUsage)
				r.Get("/instances", telemetryHandler.GetInstances)
			})

			if downloadHandler != nil {
				r.Route("/downloads", func(r chi.Router) {
					r.Get("/", downloadHandler.GetDownloadInfo)
					r.Get("/install.sh", downloadHandler.GenerateInstallScript)
					r.Get("/{product}/{version}/{platform}", downloadHandler.DownloadPersonalized)
				})
			}
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(appMiddleware.Auth(authService))
			r.Use(appMiddleware.RequireAdmin)

			r.Get("/users", userHandler.ListUsers)
			r.Get("/users/{id}", userHandler.GetUser)
			r.Put("/users/{id}", userHandler.UpdateUser)
			r.Get("/licenses", licenseHandler.ListAll)
			r.Post("/licenses/generate", licenseHandler.AdminGenerate)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
