package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	LLMBackendREST  = "rest"
	LLMBackendGenAI = "genai"

	StorageBackendPinata = "pinata"
	StorageBackendS3     = "s3"
)

type Config struct {
	Port          int
	SessionSecret string
	SessionTTL    time.Duration
	GinMode       string
	TLSCertFile   string
	TLSKeyFile    string
	LogLevel      zapcore.Level
	CORSOrigins   []string

	LLM     LLMConfig
	Storage StorageConfig

	AttestationURL string
	TDXAttestation bool
}

type LLMConfig struct {
	Backend string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type StorageConfig struct {
	Backend string

	PinataAPIKey    string
	PinataSecretKey string
	PinataAPIURL    string
	PinataGateway   string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE. Secrets may
// live there too, but environment variables always win.
type fileConfig struct {
	Port          int      `yaml:"port"`
	SessionSecret string   `yaml:"session_secret"`
	SessionTTL    int      `yaml:"session_ttl_seconds"`
	GinMode       string   `yaml:"gin_mode"`
	TLSCertFile   string   `yaml:"tls_cert_file"`
	TLSKeyFile    string   `yaml:"tls_key_file"`
	LogLevel      string   `yaml:"log_level"`
	CORSOrigins   []string `yaml:"cors_origins"`

	LLM struct {
		Backend        string `yaml:"backend"`
		APIKey         string `yaml:"api_key"`
		BaseURL        string `yaml:"base_url"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"llm"`

	Storage struct {
		Backend string `yaml:"backend"`
		Pinata  struct {
			APIKey    string `yaml:"api_key"`
			SecretKey string `yaml:"secret_key"`
			APIURL    string `yaml:"api_url"`
			Gateway   string `yaml:"gateway"`
		} `yaml:"pinata"`
		S3 struct {
			Bucket    string `yaml:"bucket"`
			Region    string `yaml:"region"`
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			PublicURL string `yaml:"public_url"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	Attestation struct {
		URL string `yaml:"url"`
		TDX bool   `yaml:"tdx"`
	} `yaml:"attestation"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

// LoadConfigFromEnv builds the config from defaults, then the YAML file named
// by CONFIG_FILE, then environment variables.
func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:       3000,
		SessionTTL: 2 * time.Hour,
		GinMode:    "release",
		LogLevel:   zapcore.InfoLevel,
		LLM: LLMConfig{
			Backend: LLMBackendREST,
			Model:   "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Backend:  StorageBackendPinata,
			S3Region: "us-east-1",
		},
	}

	if path := env.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}

	setString(env, "SESSION_SECRET", &cfg.SessionSecret)
	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required")
	}

	if err := setSeconds(env, "SESSION_TTL_SECONDS", &cfg.SessionTTL); err != nil {
		return Config{}, err
	}

	setString(env, "GIN_MODE", &cfg.GinMode)
	setString(env, "TLS_CERT_FILE", &cfg.TLSCertFile)
	setString(env, "TLS_KEY_FILE", &cfg.TLSKeyFile)
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL")
		}
		cfg.LogLevel = level
	}

	if raw := env.Getenv("CORS_ORIGINS"); raw != "" {
		cfg.CORSOrigins = splitList(raw)
	}

	setString(env, "LLM_BACKEND", &cfg.LLM.Backend)
	setString(env, "GEMINI_API_KEY", &cfg.LLM.APIKey)
	setString(env, "GEMINI_BASE_URL", &cfg.LLM.BaseURL)
	setString(env, "GEMINI_MODEL", &cfg.LLM.Model)
	if err := setSeconds(env, "LLM_TIMEOUT_SECONDS", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	switch cfg.LLM.Backend {
	case LLMBackendREST, LLMBackendGenAI:
	default:
		return Config{}, fmt.Errorf("invalid LLM_BACKEND %q", cfg.LLM.Backend)
	}

	s := &cfg.Storage
	setString(env, "STORAGE_BACKEND", &s.Backend)
	setString(env, "PINATA_API_KEY", &s.PinataAPIKey)
	setString(env, "PINATA_SECRET_KEY", &s.PinataSecretKey)
	setString(env, "PINATA_API_URL", &s.PinataAPIURL)
	setString(env, "PINATA_GATEWAY", &s.PinataGateway)
	setString(env, "S3_BUCKET", &s.S3Bucket)
	setString(env, "S3_REGION", &s.S3Region)
	setString(env, "S3_ENDPOINT", &s.S3Endpoint)
	setString(env, "S3_ACCESS_KEY", &s.S3AccessKey)
	setString(env, "S3_SECRET_KEY", &s.S3SecretKey)
	setString(env, "S3_PUBLIC_URL", &s.S3PublicURL)
	switch s.Backend {
	case StorageBackendPinata:
	case StorageBackendS3:
		if s.S3Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORAGE_BACKEND %q", s.Backend)
	}

	setString(env, "EIGENCOMPUTE_ATTESTATION_URL", &cfg.AttestationURL)
	setString(env, "ATTESTATION_URL", &cfg.AttestationURL)
	if raw := env.Getenv("TDX_ATTESTATION"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TDX_ATTESTATION")
		}
		cfg.TDXAttestation = enabled
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse CONFIG_FILE: %w", err)
	}

	if f.Port != 0 {
		cfg.Port = f.Port
	}
	overlay(&cfg.SessionSecret, f.SessionSecret)
	if f.SessionTTL < 0 {
		return fmt.Errorf("invalid session_ttl_seconds")
	}
	if f.SessionTTL > 0 {
		cfg.SessionTTL = time.Duration(f.SessionTTL) * time.Second
	}
	overlay(&cfg.GinMode, f.GinMode)
	overlay(&cfg.TLSCertFile, f.TLSCertFile)
	overlay(&cfg.TLSKeyFile, f.TLSKeyFile)
	if f.LogLevel != "" {
		level, err := zapcore.ParseLevel(f.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level")
		}
		cfg.LogLevel = level
	}
	if len(f.CORSOrigins) > 0 {
		cfg.CORSOrigins = f.CORSOrigins
	}

	overlay(&cfg.LLM.Backend, f.LLM.Backend)
	overlay(&cfg.LLM.APIKey, f.LLM.APIKey)
	overlay(&cfg.LLM.BaseURL, f.LLM.BaseURL)
	overlay(&cfg.LLM.Model, f.LLM.Model)
	if f.LLM.TimeoutSeconds > 0 {
		cfg.LLM.Timeout = time.Duration(f.LLM.TimeoutSeconds) * time.Second
	}

	s := &cfg.Storage
	overlay(&s.Backend, f.Storage.Backend)
	overlay(&s.PinataAPIKey, f.Storage.Pinata.APIKey)
	overlay(&s.PinataSecretKey, f.Storage.Pinata.SecretKey)
	overlay(&s.PinataAPIURL, f.Storage.Pinata.APIURL)
	overlay(&s.PinataGateway, f.Storage.Pinata.Gateway)
	overlay(&s.S3Bucket, f.Storage.S3.Bucket)
	overlay(&s.S3Region, f.Storage.S3.Region)
	overlay(&s.S3Endpoint, f.Storage.S3.Endpoint)
	overlay(&s.S3AccessKey, f.Storage.S3.AccessKey)
	overlay(&s.S3SecretKey, f.Storage.S3.SecretKey)
	overlay(&s.S3PublicURL, f.Storage.S3.PublicURL)

	overlay(&cfg.AttestationURL, f.Attestation.URL)
	if f.Attestation.TDX {
		cfg.TDXAttestation = true
	}
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setString(env Env, key string, dst *string) {
	if raw := env.Getenv(key); raw != "" {
		*dst = raw
	}
}

func setSeconds(env Env, key string, dst *time.Duration) error {
	raw := env.Getenv(key)
	if raw == "" {
		return nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return fmt.Errorf("invalid %s", key)
	}
	*dst = time.Duration(seconds) * time.Second
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
