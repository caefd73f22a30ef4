package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"podpirate/whisper-service/utils"
)

// Backend names accepted by WHISPER_BACKEND.
const (
	BackendFasterWhisper = "faster-whisper"
	BackendWhisperCpp    = "whisper.cpp"
	BackendGRPC          = "grpc"
)

// Config is read once at startup and never modified afterwards.
type Config struct {
	Model  ModelConfig  `toml:"model"`
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
}

// ModelConfig selects and parameterizes the inference runtime.
type ModelConfig struct {
	Name        string `toml:"name" validate:"required"`
	Device      string `toml:"device" validate:"oneof=cpu cuda auto"`
	ComputeType string `toml:"compute_type" validate:"oneof=default auto int8 int8_float16 int8_float32 int8_bfloat16 int16 float16 bfloat16 float32"`
	Backend     string `toml:"backend" validate:"oneof=faster-whisper whisper.cpp grpc"`
	Python      string `toml:"python" validate:"required_if=Backend faster-whisper"`
	ModelDir    string `toml:"model_dir"`
	Threads     int    `toml:"threads" validate:"gte=0"`
	GRPCAddr    string `toml:"grpc_addr" validate:"required_if=Backend grpc"`
	FFmpegPath  string `toml:"ffmpeg_path" validate:"required_if=Backend whisper.cpp"`
}

// ServerConfig holds the HTTP and scheduling settings.
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port" validate:"min=1,max=65535"`
	MaxUploadMB    int    `toml:"max_upload_mb" validate:"min=1"`
	ScratchDir     string `toml:"scratch_dir"`
	MaxConcurrency int    `toml:"max_concurrency" validate:"min=1"`
	QueueSize      int    `toml:"queue_size" validate:"min=0"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `toml:"format" validate:"oneof=json text"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:        "base",
			Device:      "cpu",
			ComputeType: "int8",
			Backend:     BackendFasterWhisper,
			Python:      "python3",
			ModelDir:    "./models",
			FFmpegPath:  "ffmpeg",
		},
		Server: ServerConfig{
			Port:           8000,
			MaxUploadMB:    512,
			ScratchDir:     os.TempDir(),
			MaxConcurrency: 1,
			QueueSize:      16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// WHISPER_CONFIG (if set), then environment variables.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("WHISPER_CONFIG"); ok && path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	env.str("WHISPER_MODEL", &cfg.Model.Name)
	env.str("WHISPER_DEVICE", &cfg.Model.Device)
	env.str("WHISPER_COMPUTE_TYPE", &cfg.Model.ComputeType)
	env.str("WHISPER_BACKEND", &cfg.Model.Backend)
	env.str("WHISPER_PYTHON", &cfg.Model.Python)
	env.str("WHISPER_MODEL_DIR", &cfg.Model.ModelDir)
	env.int("WHISPER_THREADS", &cfg.Model.Threads)
	env.str("WHISPER_GRPC_ADDR", &cfg.Model.GRPCAddr)
	env.str("FFMPEG_PATH", &cfg.Model.FFmpegPath)
	env.str("HOST", &cfg.Server.Host)
	env.int("PORT", &cfg.Server.Port)
	env.int("MAX_UPLOAD_MB", &cfg.Server.MaxUploadMB)
	env.str("SCRATCH_DIR", &cfg.Server.ScratchDir)
	env.int("WHISPER_MAX_CONCURRENCY", &cfg.Server.MaxConcurrency)
	env.int("WHISPER_QUEUE_SIZE", &cfg.Server.QueueSize)
	env.str("LOG_LEVEL", &cfg.Log.Level)
	env.str("LOG_FORMAT", &cfg.Log.Format)
	if env.err != nil {
		return nil, env.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %s", strings.Join(utils.FormatValidationErrors(err), ", "))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxUploadBytes is the request body limit derived from MaxUploadMB.
func (c *Config) MaxUploadBytes() int {
	return c.Server.MaxUploadMB << 20
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.err = fmt.Errorf("%s: %q is not an integer", key, v)
		return
	}
	*dst = n
}
