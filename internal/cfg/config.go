package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	EventSourceKafka = "kafka"
	EventSourceMinio = "minio"

	TranslatorOpenAI = "openai"
	TranslatorGemini = "gemini"
)

// DefaultTargetLanguages is the deployment's set of translation targets.
var DefaultTargetLanguages = []string{
	"en", "es", "pt", "de", "ja", "hi", "nl", "fr", "pl", "he", "ru", "uk", "zh", "th", "no",
}

type Config struct {
	HTTPPort string
	GRPCPort string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string

	RedisAddr           string
	RedisPassword       string
	TranslationCacheTTL time.Duration

	KafkaBrokers     []string
	KafkaBlobTopic   string
	KafkaGroupID     string
	KafkaStatusTopic string
	EventSource      string

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	WhisperModel         string
	Translator           string
	OpenAITranslateModel string
	GeminiAPIKey         string
	GeminiModel          string
	TargetLanguages      []string

	HandlerTimeout     time.Duration
	LogLevel           string
	LogDevelopment     bool
	CORSAllowedOrigins []string

	// CreateRateLimit caps POST /recordings per client per CreateRateWindow.
	// Zero disables the limit.
	CreateRateLimit  int
	CreateRateWindow time.Duration
}

// Loader reads configuration from the environment. Tests can override
// Lookup and ReadFile.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// LoadConfig loads .env if present and reads the process environment.
func LoadConfig() (Config, error) {
	// a missing .env is fine, variables may come from the environment
	_ = godotenv.Load()
	return Loader{}.Load()
}

func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{
		HTTPPort:             l.getEnvOrDefault("HTTP_PORT", "8080"),
		GRPCPort:             l.getEnvOrDefault("GRPC_PORT", "9090"),
		MongoURI:             l.getEnv("MONGODB_URI"),
		MongoDatabase:        l.getEnvOrDefault("MONGODB_DATABASE", "babelfire"),
		MongoCollection:      l.getEnvOrDefault("MONGODB_COLLECTION", "uploads"),
		MinioEndpoint:        l.getEnv("MINIO_ENDPOINT"),
		MinioAccessKey:       l.getEnv("MINIO_ACCESS_KEY"),
		MinioSecretKey:       l.getEnv("MINIO_SECRET_KEY"),
		MinioBucket:          l.getEnvOrDefault("MINIO_BUCKET", "recordings"),
		RedisAddr:            l.getEnv("REDIS_ADDR"),
		RedisPassword:        l.getEnv("REDIS_PASSWORD"),
		KafkaBrokers:         splitCSV(l.getEnv("KAFKA_BROKERS")),
		KafkaBlobTopic:       l.getEnvOrDefault("KAFKA_BLOB_TOPIC", "recordings.blob-events"),
		KafkaGroupID:         l.getEnvOrDefault("KAFKA_GROUP_ID", "babelfire-pipeline"),
		KafkaStatusTopic:     l.getEnv("KAFKA_STATUS_TOPIC"),
		EventSource:          strings.ToLower(l.getEnvOrDefault("EVENT_SOURCE", EventSourceKafka)),
		OpenAIAPIKey:         l.getEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:        l.getEnv("OPENAI_BASE_URL"),
		WhisperModel:         l.getEnvOrDefault("WHISPER_MODEL", "whisper-1"),
		Translator:           strings.ToLower(l.getEnvOrDefault("TRANSLATOR", TranslatorOpenAI)),
		OpenAITranslateModel: l.getEnv("OPENAI_TRANSLATE_MODEL"),
		GeminiAPIKey:         l.getEnv("GEMINI_API_KEY"),
		GeminiModel:          l.getEnv("GEMINI_MODEL"),
		LogLevel:             l.getEnvOrDefault("LOG_LEVEL", "info"),
		CORSAllowedOrigins:   splitCSV(l.getEnv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.MinioUseSSL, err = l.getBool("MINIO_USE_SSL"); err != nil {
		return Config{}, err
	}
	if cfg.LogDevelopment, err = l.getBool("LOG_DEVELOPMENT"); err != nil {
		return Config{}, err
	}
	if cfg.HandlerTimeout, err = l.getDuration("HANDLER_TIMEOUT", 9*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.TranslationCacheTTL, err = l.getDuration("TRANSLATION_CACHE_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CreateRateLimit, err = l.getInt("CREATE_RATE_LIMIT", 30); err != nil {
		return Config{}, err
	}
	if cfg.CreateRateWindow, err = l.getDuration("CREATE_RATE_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.TargetLanguages, err = l.targetLanguages(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

type languagesFile struct {
	Languages []string `yaml:"languages"`
}

// targetLanguages prefers TARGET_LANGUAGES, then LANGUAGES_FILE, then the
// built-in set.
func (l Loader) targetLanguages() ([]string, error) {
	if raw := l.getEnv("TARGET_LANGUAGES"); raw != "" {
		return normalizeLanguages(splitCSV(raw)), nil
	}

	path := l.getEnv("LANGUAGES_FILE")
	if path == "" {
		return append([]string(nil), DefaultTargetLanguages...), nil
	}

	data, err := l.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	var file languagesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse languages file %s: %w", path, err)
	}
	return normalizeLanguages(file.Languages), nil
}

func normalizeLanguages(codes []string) []string {
	codes = lo.Map(codes, func(c string, _ int) string { return strings.TrimSpace(c) })
	return lo.Uniq(lo.Compact(codes))
}

// Validate reports every missing or invalid setting the serve command needs.
func (c Config) Validate() error {
	errs := []error{c.ValidateStorage()}

	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY must be set"))
	}

	switch c.EventSource {
	case EventSourceKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS must be set when EVENT_SOURCE=kafka"))
		}
		if c.KafkaBlobTopic == "" {
			errs = append(errs, errors.New("KAFKA_BLOB_TOPIC must be set when EVENT_SOURCE=kafka"))
		}
	case EventSourceMinio:
	default:
		errs = append(errs, fmt.Errorf("EVENT_SOURCE must be %q or %q, got %q", EventSourceKafka, EventSourceMinio, c.EventSource))
	}

	switch c.Translator {
	case TranslatorOpenAI:
	case TranslatorGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY must be set when TRANSLATOR=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSLATOR must be %q or %q, got %q", TranslatorOpenAI, TranslatorGemini, c.Translator))
	}

	if c.KafkaStatusTopic != "" && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must be set when KAFKA_STATUS_TOPIC is set"))
	}
	if len(c.TargetLanguages) == 0 {
		errs = append(errs, errors.New("at least one target language is required"))
	}
	if c.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("HANDLER_TIMEOUT must be positive"))
	}
	if c.CreateRateLimit < 0 {
		errs = append(errs, errors.New("CREATE_RATE_LIMIT must not be negative"))
	}

	return errors.Join(errs...)
}

// ValidateStorage checks only the document and blob store settings.
func (c Config) ValidateStorage() error {
	var errs []error
	for key, value := range map[string]string{
		"MONGODB_URI":      c.MongoURI,
		"MINIO_ENDPOINT":   c.MinioEndpoint,
		"MINIO_ACCESS_KEY": c.MinioAccessKey,
		"MINIO_SECRET_KEY": c.MinioSecretKey,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s must be set", key))
		}
	}
	return errors.Join(errs...)
}

func (l Loader) getEnv(key string) string {
	value, _ := l.Lookup(key)
	return strings.TrimSpace(value)
}

func (l Loader) getEnvOrDefault(key, def string) string {
	if value := l.getEnv(key); value != "" {
		return value
	}
	return def
}

func (l Loader) getBool(key string) (bool, error) {
	raw := l.getEnv(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (l Loader) getInt(key string, def int) (int, error) {
	raw := l.getEnv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (l Loader) getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := l.getEnv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
