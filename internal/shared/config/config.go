package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultUploadMaxBytes = 10 << 20 // 10MB

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	JWTSecret       string
	LogLevel        string
	LogFormat       string

	KakaoClientID     string
	KakaoClientSecret string
	KakaoRedirectURL  string
	AuthUIRedirect    string

	ObjectStoreType  string
	LocalStoreDir    string
	AWSRegion        string
	S3Bucket         string
	S3Prefix         string
	S3Endpoint       string
	S3ForcePathStyle bool
	AWSAccessKeyID   string
	AWSSecretKey     string
	SSEKMSKeyID      string
	MinioEndpoint    string
	MinioUseSSL      bool

	AIProvider         string
	OpenAIAPIKey       string
	OpenAIModel        string
	AnthropicAPIKey    string
	AnthropicModel     string
	GeminiAPIKey       string
	GeminiModel        string
	LLMMaxTokens       int
	LLMTimeout         time.Duration
	OCRProvider        string
	ClovaOCRAPIKey     string
	ClovaOCRGateway    string
	OCRTimeout         time.Duration
	PromptsFile        string
	UploadMaxBytes     int64
	CancelOnDisconnect bool

	QueueBackend      string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	SQSQueueURL       string
	SQSVisibility     time.Duration
	WorkerConcurrency int
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             normalizeEnv(getEnv("ENV", "dev")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),

		KakaoClientID:     getEnv("KAKAO_CLIENT_ID", ""),
		KakaoClientSecret: getEnv("KAKAO_CLIENT_SECRET", ""),
		KakaoRedirectURL:  getEnv("KAKAO_REDIRECT_URL", "http://localhost:8080/api/v1/auth/kakao/callback"),
		AuthUIRedirect:    getEnv("AUTH_UI_REDIRECT", ""),

		ObjectStoreType:  normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:    getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:        getEnv("AWS_REGION", ""),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Prefix:         getEnv("S3_PREFIX", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),
		AWSAccessKeyID:   getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SSEKMSKeyID:      getEnv("SSE_KMS_KEY_ID", ""),
		MinioEndpoint:    getEnv("MINIO_ENDPOINT", ""),
		MinioUseSSL:      getEnvBool("MINIO_USE_SSL", false),

		AIProvider:         normalizeAIProvider(getEnv("AI_PROVIDER", "gemini")),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o"),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMMaxTokens:       getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTimeout:         time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		OCRProvider:        normalizeOCRProvider(getEnv("OCR_PROVIDER", "local")),
		ClovaOCRAPIKey:     getEnv("CLOVA_OCR_API_KEY", ""),
		ClovaOCRGateway:    getEnv("CLOVA_OCR_API_GATEWAY", ""),
		OCRTimeout:         time.Duration(getEnvInt("OCR_TIMEOUT_SECONDS", 60)) * time.Second,
		PromptsFile:        getEnv("PROMPTS_FILE", ""),
		UploadMaxBytes:     int64(getEnvInt("UPLOAD_MAX_BYTES", defaultUploadMaxBytes)),
		CancelOnDisconnect: getEnvBool("ANALYSIS_CANCEL_ON_DISCONNECT", false),

		QueueBackend:      normalizeQueueBackend(getEnv("QUEUE_BACKEND", "none")),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		SQSVisibility:     time.Duration(getEnvInt("SQS_VISIBILITY_TIMEOUT_SECONDS", 1200)) * time.Second,
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		ShutdownTimeout:   time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

// Validate reports settings that cannot work in the configured environment.
func (c Config) Validate() error {
	var errs []error
	if c.Env == "production" {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
	}
	if c.OCRProvider == "clova" && (c.ClovaOCRAPIKey == "" || c.ClovaOCRGateway == "") {
		errs = append(errs, errors.New("OCR_PROVIDER=clova requires CLOVA_OCR_API_KEY and CLOVA_OCR_API_GATEWAY"))
	}
	switch c.QueueBackend {
	case "asynq":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("QUEUE_BACKEND=asynq requires REDIS_ADDR"))
		}
	case "sqs":
		if c.SQSQueueURL == "" {
			errs = append(errs, errors.New("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL"))
		}
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("QUEUE_BACKEND=sqs requires REDIS_ADDR for event relay"))
		}
	}
	return errors.Join(errs...)
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

func normalizeAIProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "chatgpt", "openai":
		return "chatgpt"
	case "anthropic", "claude":
		return "anthropic"
	case "none":
		return "none"
	default:
		return "gemini"
	}
}

func normalizeOCRProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "clova":
		return "clova"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "asynq", "redis":
		return "asynq"
	case "sqs":
		return "sqs"
	default:
		return "none"
	}
}
