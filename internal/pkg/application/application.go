package application

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/SyncFox/app/controllers"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/billing"
	"github.com/ManuelReschke/SyncFox/internal/pkg/cache"
	"github.com/ManuelReschke/SyncFox/internal/pkg/database"
	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
	"github.com/ManuelReschke/SyncFox/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/SyncFox/internal/pkg/mail"
	"github.com/ManuelReschke/SyncFox/internal/pkg/oauth"
	"github.com/ManuelReschke/SyncFox/internal/pkg/realtime"
	"github.com/ManuelReschke/SyncFox/internal/pkg/router"
	"github.com/ManuelReschke/SyncFox/internal/pkg/security"
	"github.com/ManuelReschke/SyncFox/internal/pkg/session"
	"github.com/ManuelReschke/SyncFox/internal/pkg/storage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/wizard"
)

// Application is the configured HTTP server plus its background workers.
type Application struct {
	App   *fiber.App
	Usage *usage.Manager
	Mail  *mail.Queue // nil without SMTP
}

// Addr is the listen address from APP_HOST and APP_PORT.
func Addr() string {
	return net.JoinHostPort(env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
}

func findBasePath() string {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/syncfox to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			return path
		}
	}
	panic("Could not find project root directory")
}

// New wires every dependency and returns the ready application.
func New() *Application {
	env.SetupEnvFile()
	db := database.SetupDatabase()
	cache.SetupCache()
	session.NewSessionStore()
	oauth.Setup()

	basePath := findBasePath()
	rdb := cache.GetClient()
	b := backend.FromDB(db, realtime.NewRedisHub(rdb))

	sealer, err := security.NewSealerFromEnv()
	if err != nil {
		// Platform credentials cannot be stored until the key is set.
		log.Warnf("[Security] %v", err)
	}

	stripeCfg := billing.LoadStripeConfig()
	billingService := billing.NewServiceFromDB(db, billing.NewStripeGateway(stripeCfg), stripeCfg)
	if err := billingService.SeedPlanMappings(context.Background()); err != nil {
		log.Errorf("[Billing] failed to seed plan mappings: %v", err)
	}

	counter := usage.NewCounter(rdb, b.Repos.Usage)
	manager := usage.NewManager(counter, env.GetEnvDuration("USAGE_FLUSH_INTERVAL", usage.DefaultFlushInterval))

	avatarCfg, err := storage.LoadConfig()
	if err != nil {
		panic(err)
	}
	avatars, err := storage.NewAvatarStore(context.Background(), avatarCfg)
	if err != nil {
		panic(err)
	}

	flow := wizard.NewFlow(
		wizard.FormatKeyValidator{},
		wizard.NewAccountCredentials(b.Repos.Account, sealer),
		wizard.NewHTTPTester(env.GetEnvDuration("CONNECTIVITY_TIMEOUT", 10*time.Second), env.GetEnv("SHOPIFY_SHOP_NAME", "")),
		wizard.NewRepositoryCreator(b.Repos.Integration, b.Repos.Account),
		wizard.NewActivityRecorder(b.Repos.Activity),
	)

	var (
		mailer    controllers.Mailer
		mailQueue *mail.Queue
	)
	if m := mail.NewSMTPMailer(mail.LoadConfig()); m.Enabled() {
		mailQueue = mail.NewQueue(m, env.GetEnvInt("MAIL_QUEUE_SIZE", mail.DefaultQueueSize))
		mailer = mailQueue
	}

	frontend := strings.TrimRight(env.GetEnv("FRONTEND_ORIGIN", ""), "/")
	ctrls := controllers.New(controllers.Deps{
		Backend:  b,
		Billing:  billingService,
		Flow:     flow,
		Calls:    counter,
		Usage:    counter,
		Avatars:  avatars,
		Captcha:  hcaptcha.NewFromEnv(),
		Mailer:   mailer,
		Frontend: frontend,
	})

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New())

	// local avatars
	if !avatarCfg.UsesS3() {
		app.Static(avatarCfg.LocalURLPrefix, avatarCfg.LocalDir, fiber.Static{
			CacheDuration: 10 * time.Second,
			MaxAge:        604800, // 7 days
		})
	}

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, ctrls, b, router.Options{
		FrontendOrigin: frontend,
		RateLimit:      env.GetEnvInt("API_RATE_LIMIT", 120),
		LimiterStorage: limiterStorage(),
	})

	return &Application{App: app, Usage: manager, Mail: mailQueue}
}

// limiterStorage shares rate limit counters between instances through Redis DB 3.
func limiterStorage() fiber.Storage {
	opts := cache.GetClient().Options()
	host, port := "127.0.0.1", 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Username: opts.Username,
		Password: opts.Password,
		Database: 3,
	})
}

// Run serves until ctx is cancelled, then drains the usage counters.
func (a *Application) Run(ctx context.Context) error {
	a.Usage.Start(ctx)
	defer a.Usage.Stop()
	if a.Mail != nil {
		// runs until Stop so mails queued during shutdown still go out
		a.Mail.Start(context.Background())
		defer a.Mail.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.App.Listen(Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("[Server] shutting down")
		return a.App.ShutdownWithTimeout(10 * time.Second)
	}
}
