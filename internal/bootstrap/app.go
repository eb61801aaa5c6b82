package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"analyzer-backend/internal/analysis"
	kakaoauth "analyzer-backend/internal/auth"
	"analyzer-backend/internal/documents"
	"analyzer-backend/internal/events"
	"analyzer-backend/internal/ocr"
	"analyzer-backend/internal/ocr/clova"
	localocr "analyzer-backend/internal/ocr/local"
	"analyzer-backend/internal/queue"
	"analyzer-backend/internal/services/health"
	"analyzer-backend/internal/shared/auth"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/server"
	"analyzer-backend/internal/shared/storage/db"
	"analyzer-backend/internal/shared/storage/object"
	localstore "analyzer-backend/internal/shared/storage/object/local"
	miniostore "analyzer-backend/internal/shared/storage/object/minio"
	s3store "analyzer-backend/internal/shared/storage/object/s3"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/textgen"
	"analyzer-backend/internal/textgen/providers"
	"analyzer-backend/internal/users"
	"analyzer-backend/internal/workerproc"
)

// Role selects pool sizing and which surfaces are built.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Redis  *redis.Client
	Store  object.Store
	Blobs  *object.Blobs
	Queue  queue.Client
	Events *events.Bus
	Health *health.Service

	DocumentsRepo    documents.Repo
	DocumentsService *documents.Service
	AnalysisService  *analysis.Service
	DocumentsHandler *documents.Handler
	AnalysisHandler  *analysis.Handler
	UsersService     *users.Service
	UsersHandler     *users.Handler
	Processor        *workerproc.Processor
}

// Build wires configuration to concrete adapters. Dev-like environments fall
// back to in-memory repositories when no database is reachable.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sqlDB, err := buildDB(ctx, cfg, role)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Blobs:  object.NewBlobs(store),
		Queue:  queueClient,
		Health: health.NewService(),
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		app.Redis = events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		app.Events = events.NewBus(app.Redis)
		app.Health.Register("redis", health.PingFunc(app.Events.Ping))
	}
	if sqlDB != nil {
		app.Health.Register("database", sqlDB)
	}

	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	if role == RoleAPI {
		secret, err := auth.SecretKey(cfg.Env, cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		kakao := kakaoauth.NewKakaoService(kakaoauth.KakaoOptions{
			ClientID:     cfg.KakaoClientID,
			ClientSecret: cfg.KakaoClientSecret,
			RedirectURL:  cfg.KakaoRedirectURL,
			UIRedirect:   cfg.AuthUIRedirect,
			Secret:       secret,
		}, app.UsersService)
		app.Router = server.NewRouter(server.RouterDeps{
			Config:          app.Config,
			AuthSecret:      secret,
			Health:          app.Health,
			DocumentHandler: app.DocumentsHandler,
			AnalysisHandler: app.AnalysisHandler,
			UserHandler:     app.UsersHandler,
			Users:           app.UsersService,
			KakaoAuth:       kakao,
		})
	}

	return app, nil
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	if closer, ok := a.Queue.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if role == RoleWorker {
		defaults = db.DefaultWorkerOptions(cfg.WorkerConcurrency)
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err == nil && role == RoleAPI {
		if err = db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			err = fmt.Errorf("run migrations: %w", err)
		}
	}
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "database unavailable", "error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
			KMSKeyID:        cfg.SSEKMSKeyID,
		})
	case "minio":
		store, err := miniostore.New(miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.AWSAccessKeyID,
			SecretKey: cfg.AWSSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.AWSRegion,
			Bucket:    cfg.S3Bucket,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	switch cfg.QueueBackend {
	case "asynq":
		return queue.NewAsynqClient(queue.RedisOpt(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)), nil
	case "sqs":
		return queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
	default:
		return nil, nil
	}
}

func buildOCR(cfg config.Config) (ocr.Extractor, error) {
	if cfg.OCRProvider == "clova" {
		return clova.New(cfg.ClovaOCRAPIKey, cfg.ClovaOCRGateway, cfg.OCRTimeout)
	}
	return localocr.New(), nil
}

func buildGenerator(ctx context.Context, cfg config.Config) (textgen.Generator, error) {
	gen, err := providers.New(ctx, cfg)
	if err == nil {
		return gen, nil
	}
	if cfg.IsDevLike() {
		telemetry.Warn("textgen.placeholder", map[string]any{"provider": cfg.AIProvider, "error": err})
		return textgen.Placeholder{}, nil
	}
	return nil, err
}

func buildPrompts(cfg config.Config) (analysis.Prompts, error) {
	if strings.TrimSpace(cfg.PromptsFile) == "" {
		return analysis.DefaultPrompts(), nil
	}
	return analysis.LoadPrompts(cfg.PromptsFile)
}

func buildServices(ctx context.Context, app *App) error {
	var (
		docRepo  documents.Repo
		userRepo users.Repo
	)
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		userRepo = &users.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		userRepo = users.NewMemoryRepo()
	}

	extractor, err := buildOCR(app.Config)
	if err != nil {
		return err
	}
	gen, err := buildGenerator(ctx, app.Config)
	if err != nil {
		return err
	}
	prompts, err := buildPrompts(app.Config)
	if err != nil {
		return err
	}

	docSvc := &documents.Service{
		Blobs:    app.Blobs,
		Repo:     docRepo,
		MaxBytes: app.Config.UploadMaxBytes,
	}
	analysisSvc := &analysis.Service{
		Repo:               docRepo,
		Blobs:              app.Blobs,
		OCR:                extractor,
		Generator:          gen,
		Prompts:            prompts,
		CancelOnDisconnect: app.Config.CancelOnDisconnect,
	}

	var (
		sub events.Subscriber
		pub events.Publisher
	)
	if app.Events != nil {
		sub = app.Events
		pub = app.Events
	}

	app.DocumentsRepo = docRepo
	app.DocumentsService = docSvc
	app.AnalysisService = analysisSvc
	app.UsersService = users.NewService(userRepo)
	app.UsersHandler = users.NewHandler(app.UsersService)
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.AnalysisHandler = analysis.NewHandler(analysisSvc, app.Queue, sub)
	app.Processor = &workerproc.Processor{Analyzer: analysisSvc, Publisher: pub}

	if app.DocumentsHandler == nil || app.AnalysisHandler == nil {
		return errors.New("failed to initialize handlers")
	}
	return nil
}
