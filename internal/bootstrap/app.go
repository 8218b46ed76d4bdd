package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"docuchat/internal/ai"
	"docuchat/internal/app"
	"docuchat/internal/cache"
	"docuchat/internal/config"
	"docuchat/internal/model"
	"docuchat/internal/platform/mysql"
	"docuchat/internal/platform/objectstore"
	"docuchat/internal/platform/rabbitmq"
	redisplatform "docuchat/internal/platform/redis"
	"docuchat/internal/repository"
	"docuchat/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection
	Blobs  *objectstore.Store

	AuthService   *app.AuthService
	ChatService   *app.ChatService
	IngestService *app.IngestService
	Publisher     *rabbitmq.UploadEventPublisher

	vectorizeWorker *worker.VectorizeWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	mysqlDB, err := mysql.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Session{},
		&model.Message{},
		&model.FileStatus{},
		&model.UserCollection{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisplatform.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmq.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	blobs, err := objectstore.New(cfg.Minio)
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	aiClient := ai.NewClient(ai.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})

	userRepo := repository.NewUserRepository(mysqlDB)
	sessionRepo := repository.NewSessionRepository(mysqlDB)
	messageRepo := repository.NewMessageRepository(mysqlDB)
	statusRepo := repository.NewFileStatusRepository(mysqlDB)
	collectionRepo := repository.NewCollectionRepository(mysqlDB)

	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	chatRetry := app.RetryPolicy{
		Attempts:        uint64(cfg.Pipeline.ChatRetryAttempts),
		InitialInterval: time.Duration(cfg.Pipeline.BackoffInitialMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Pipeline.BackoffMaxMS) * time.Millisecond,
	}
	pipelineRetry := app.RetryPolicy{
		Attempts:        uint64(cfg.Pipeline.RetryAttempts),
		InitialInterval: time.Duration(cfg.Pipeline.BackoffInitialMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Pipeline.BackoffMaxMS) * time.Millisecond,
	}

	authService := app.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	chatService := app.NewChatService(
		sessionRepo,
		messageRepo,
		collectionRepo,
		aiClient,
		historyCache,
		logger,
		cfg.LLM.MaxContextMessage,
		cfg.LLM.MaxSearchResults,
		chatRetry,
	)
	ingestService := app.NewIngestService(
		statusRepo,
		collectionRepo,
		aiClient,
		blobs,
		logger,
		time.Duration(cfg.Pipeline.PollIntervalMS)*time.Millisecond,
		time.Duration(cfg.Pipeline.AwaitIndexSeconds)*time.Second,
		pipelineRetry,
	)

	publisher := rabbitmq.NewUploadEventPublisher(mqConn, cfg.RabbitMQ.VectorizeQueue)

	vectorizeWorker := worker.NewVectorizeWorker(mqConn, ingestService, cfg.RabbitMQ.VectorizeQueue, logger)
	if err := vectorizeWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start vectorize worker failed: %w", err)
	}

	return &App{
		Config:          cfg,
		Logger:          logger,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		Blobs:           blobs,
		AuthService:     authService,
		ChatService:     chatService,
		IngestService:   ingestService,
		Publisher:       publisher,
		vectorizeWorker: vectorizeWorker,
		StartedAt:       time.Now(),
	}, nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func (a *App) Close() error {
	var closeErr error
	if a.vectorizeWorker != nil {
		a.vectorizeWorker.Close()
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
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
