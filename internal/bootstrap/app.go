package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"custodytrail/internal/ai"
	appsvc "custodytrail/internal/app"
	"custodytrail/internal/cache"
	"custodytrail/internal/config"
	"custodytrail/internal/platform/database"
	rabbitmqClient "custodytrail/internal/platform/rabbitmq"
	redisClient "custodytrail/internal/platform/redis"
	"custodytrail/internal/repository"
	"custodytrail/internal/storage"
	"custodytrail/internal/vision"
	"custodytrail/internal/worker"
)

// Services are the application services the HTTP layer talks to.
type Services struct {
	Captures *appsvc.CaptureService
	Timeline *appsvc.TimelineService
	Profiles *appsvc.ProfileService
	Quota    *appsvc.QuotaService
}

type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	Blobs       *storage.LocalStore
	CacheWorker *worker.TimelineCacheWorker
	PhotoTagger *vision.PhotoTagger
	Services    Services

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(db); err != nil {
		return err
	}

	a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}

	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}

	a.Blobs, err = storage.NewLocalStore(cfg.Storage.Root, cfg.Storage.PublicBaseURL, cfg.Storage.SigningSecret)
	if err != nil {
		return err
	}

	defaultTZ, err := time.LoadLocation(cfg.Capture.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("load default timezone failed: %w", err)
	}

	timelineCache := cache.NewTimelineCache(
		a.Redis,
		time.Duration(cfg.Redis.TimelineTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.TimelineDirtyTTLSeconds)*time.Second,
	)
	progressCache := cache.NewProgressCache(a.Redis, time.Duration(cfg.Redis.ProgressTTLSeconds)*time.Second)
	publisher := rabbitmqClient.NewCaptureEventPublisher(a.MQConn, cfg.RabbitMQ.CaptureEventQueue)

	a.CacheWorker = worker.NewTimelineCacheWorker(a.MQConn, timelineCache, cfg.RabbitMQ.CaptureEventQueue)
	if err := a.CacheWorker.Start(ctx); err != nil {
		return fmt.Errorf("start timeline cache worker failed: %w", err)
	}

	llm := ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second)
	textCfg := ai.ChatConfig{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model}
	evidenceCfg := textCfg
	if cfg.LLM.VisionModel != "" {
		evidenceCfg.Model = cfg.LLM.VisionModel
	}

	var labeler appsvc.PhotoLabeler
	if cfg.VisionEnabled() {
		a.PhotoTagger = vision.NewPhotoTagger(cfg.Vision.ModelPath, cfg.Vision.LabelsPath, cfg.Vision.ONNXSharedLibPath, cfg.Vision.TopK)
		labeler = a.PhotoTagger
		log.Printf("photo tagging enabled model=%s", cfg.Vision.ModelPath)
	}

	sessionRepo := repository.NewCaptureSessionRepository(db)
	evidenceRepo := repository.NewEvidenceRepository(db)
	profileRepo := repository.NewCaseProfileRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)

	quota := appsvc.NewQuotaService(profileRepo, usageRepo, cfg.Quota.DefaultTier, cfg.Quota.Limits)
	commits := appsvc.NewCommitService(db, quota, publisher, timelineCache, appsvc.LinkPolicy(cfg.Capture.LinkPolicy), defaultTZ)

	a.Services = Services{
		Captures: appsvc.NewCaptureService(appsvc.CaptureDeps{
			Sessions:     sessionRepo,
			Evidence:     evidenceRepo,
			Profiles:     profileRepo,
			Processor:    appsvc.NewEvidenceProcessor(evidenceRepo, a.Blobs, llm, evidenceCfg, labeler, cfg.Capture.EvidenceConcurrency),
			Extractor:    appsvc.NewExtractionEngine(llm, textCfg),
			Commits:      commits,
			Quota:        quota,
			Progress:     progressCache,
			Blobs:        a.Blobs,
			SignedURLTTL: time.Duration(cfg.Storage.SignedURLTTLSeconds) * time.Second,
			DefaultTZ:    defaultTZ,
		}),
		Timeline: appsvc.NewTimelineService(timelineRepo, timelineCache),
		Profiles: appsvc.NewProfileService(profileRepo),
		Quota:    quota,
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.CacheWorker != nil {
		a.CacheWorker.Close()
	}
	if a.PhotoTagger != nil {
		a.PhotoTagger.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
