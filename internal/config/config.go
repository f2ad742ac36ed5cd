package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/riskibarqy/playfab-go/internal/platform/logging"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

// Config stores runtime configuration for the smoke harness and the SDK
// transport underneath it.
type Config struct {
	AppEnv         string
	ServiceName    string
	ServiceVersion string
	LogLevel       logging.Level

	TitleID            string
	CustomID           string
	DeveloperSecretKey string
	BaseURL            string

	Timeout               time.Duration
	MaxRetries            int
	CircuitEnabled        bool
	CircuitFailureCount   int
	CircuitOpenTimeout    time.Duration
	CircuitHalfOpenMaxReq int
	EntityTokenTTL        time.Duration

	SmokeIterations int
	SmokeWorkers    int
	SmokeDBEnabled  bool
	SmokeDBURL      string

	UptraceEnabled bool
	UptraceDSN     string

	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	titleID := strings.TrimSpace(getEnv("PLAYFAB_TITLE_ID", ""))
	if titleID == "" {
		return Config{}, fmt.Errorf("PLAYFAB_TITLE_ID is required")
	}

	timeout, err := time.ParseDuration(getEnv("PLAYFAB_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return Config{}, fmt.Errorf("PLAYFAB_TIMEOUT must be > 0")
	}

	maxRetries, err := getEnvAsInt("PLAYFAB_MAX_RETRIES", 1)
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_MAX_RETRIES: %w", err)
	}
	if maxRetries < 0 {
		return Config{}, fmt.Errorf("PLAYFAB_MAX_RETRIES must be >= 0")
	}

	circuitEnabled, err := strconv.ParseBool(getEnv("PLAYFAB_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_CIRCUIT_ENABLED: %w", err)
	}
	circuitFailureCount, err := getEnvAsInt("PLAYFAB_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	if circuitFailureCount < 1 {
		return Config{}, fmt.Errorf("PLAYFAB_CIRCUIT_FAILURE_COUNT must be >= 1")
	}
	circuitOpenTimeout, err := time.ParseDuration(getEnv("PLAYFAB_CIRCUIT_OPEN_TIMEOUT", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_CIRCUIT_OPEN_TIMEOUT: %w", err)
	}
	if circuitOpenTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYFAB_CIRCUIT_OPEN_TIMEOUT must be > 0")
	}
	circuitHalfOpenMaxReq, err := getEnvAsInt("PLAYFAB_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}
	if circuitHalfOpenMaxReq < 1 {
		return Config{}, fmt.Errorf("PLAYFAB_CIRCUIT_HALF_OPEN_MAX_REQ must be >= 1")
	}

	entityTokenTTL, err := time.ParseDuration(getEnv("PLAYFAB_ENTITY_TOKEN_TTL", "55m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PLAYFAB_ENTITY_TOKEN_TTL: %w", err)
	}
	if entityTokenTTL <= 0 {
		return Config{}, fmt.Errorf("PLAYFAB_ENTITY_TOKEN_TTL must be > 0")
	}

	smokeIterations, err := getEnvAsInt("SMOKE_ITERATIONS", 1)
	if err != nil {
		return Config{}, fmt.Errorf("parse SMOKE_ITERATIONS: %w", err)
	}
	if smokeIterations < 1 {
		return Config{}, fmt.Errorf("SMOKE_ITERATIONS must be >= 1")
	}
	smokeWorkers, err := getEnvAsInt("SMOKE_WORKERS", 4)
	if err != nil {
		return Config{}, fmt.Errorf("parse SMOKE_WORKERS: %w", err)
	}
	if smokeWorkers < 1 {
		return Config{}, fmt.Errorf("SMOKE_WORKERS must be >= 1")
	}

	smokeDBEnabled, err := strconv.ParseBool(getEnv("SMOKE_DB_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SMOKE_DB_ENABLED: %w", err)
	}
	smokeDBURL := strings.TrimSpace(getEnv("SMOKE_DB_URL", ""))
	if smokeDBEnabled && smokeDBURL == "" {
		return Config{}, fmt.Errorf("SMOKE_DB_URL is required when SMOKE_DB_ENABLED=true")
	}

	uptraceEnabled, err := strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	pyroscopeEnabled, err := strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := time.ParseDuration(getEnv("PYROSCOPE_UPLOAD_RATE", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_UPLOAD_RATE: %w", err)
	}
	if pyroscopeUploadRate <= 0 {
		return Config{}, fmt.Errorf("PYROSCOPE_UPLOAD_RATE must be > 0")
	}

	cfg := Config{
		AppEnv:         appEnv,
		ServiceName:    getEnv("APP_SERVICE_NAME", "playfab-smoketest"),
		ServiceVersion: getEnv("APP_SERVICE_VERSION", "dev"),
		LogLevel:       parseLogLevel(getEnv("APP_LOG_LEVEL", "info")),

		TitleID:            titleID,
		CustomID:           strings.TrimSpace(getEnv("PLAYFAB_CUSTOM_ID", "go-smoketest-custom-id")),
		DeveloperSecretKey: strings.TrimSpace(getEnv("PLAYFAB_SECRET_KEY", "")),
		BaseURL:            strings.TrimSpace(getEnv("PLAYFAB_BASE_URL", "")),

		Timeout:               timeout,
		MaxRetries:            maxRetries,
		CircuitEnabled:        circuitEnabled,
		CircuitFailureCount:   circuitFailureCount,
		CircuitOpenTimeout:    circuitOpenTimeout,
		CircuitHalfOpenMaxReq: circuitHalfOpenMaxReq,
		EntityTokenTTL:        entityTokenTTL,

		SmokeIterations: smokeIterations,
		SmokeWorkers:    smokeWorkers,
		SmokeDBEnabled:  smokeDBEnabled,
		SmokeDBURL:      smokeDBURL,

		UptraceEnabled: uptraceEnabled,
		UptraceDSN:     uptraceDSN,

		PyroscopeEnabled:           pyroscopeEnabled,
		PyroscopeServerAddress:     pyroscopeServerAddress,
		PyroscopeAuthToken:         strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeBasicAuthUser:     strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", "")),
		PyroscopeBasicAuthPassword: strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")),
		PyroscopeUploadRate:        pyroscopeUploadRate,
	}
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}
	if cfg.CustomID == "" {
		return Config{}, fmt.Errorf("PLAYFAB_CUSTOM_ID cannot be empty")
	}

	return cfg, nil
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}
