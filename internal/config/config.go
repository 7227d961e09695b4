package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Image     ImageProviderConfig
	Video     VideoProviderConfig
	Voice     VoiceProviderConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Encode    EncodeConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	GeneratePerHour int
	ValidatePerMin  int
}

type ImageProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type VideoProviderConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	PollInterval time.Duration
	PollMaxWait  time.Duration
}

type VoiceProviderConfig struct {
	APIKey         string
	BaseURL        string
	ModelID        string
	DefaultVoiceID string
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

type PipelineConfig struct {
	WorkDir         string
	MaxScenes       int
	WorkerCount     int           // global cap on concurrent provider calls
	MaxAttempts     int           // per external call, transient failures only
	RetryBase       time.Duration // first backoff step
	CallTimeout     time.Duration // per external call, distinct from retries
	DefaultSceneSec int           // timeline slot when offsets give none
}

type EncodeConfig struct {
	FFmpegPath   string
	FFprobePath  string
	VideoCodec   string
	Preset       string
	CRF          int
	PixelFormat  string
	AudioCodec   string
	AudioBitrate string
	FastStart    bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("IMAGE_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("VOICE_API_KEY")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = viper.BindEnv("image.base_url", "IMAGE_BASE_URL")
	_ = viper.BindEnv("image.model", "IMAGE_MODEL")
	_ = viper.BindEnv("video.api_key", "VIDEO_API_KEY")
	_ = viper.BindEnv("video.base_url", "VIDEO_BASE_URL")
	_ = viper.BindEnv("video.model", "VIDEO_MODEL")
	_ = viper.BindEnv("video.poll_interval_sec", "VIDEO_POLL_INTERVAL_SEC")
	_ = viper.BindEnv("video.poll_max_wait_sec", "VIDEO_POLL_MAX_WAIT_SEC")
	_ = viper.BindEnv("voice.api_key", "VOICE_API_KEY")
	_ = viper.BindEnv("voice.base_url", "VOICE_BASE_URL")
	_ = viper.BindEnv("voice.model_id", "VOICE_MODEL_ID")
	_ = viper.BindEnv("voice.default_voice_id", "VOICE_DEFAULT_VOICE_ID")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("pipeline.work_dir", "PIPELINE_WORK_DIR")
	_ = viper.BindEnv("pipeline.max_scenes", "PIPELINE_MAX_SCENES")
	_ = viper.BindEnv("pipeline.worker_count", "PIPELINE_WORKER_COUNT")
	_ = viper.BindEnv("pipeline.max_attempts", "PIPELINE_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.retry_base_ms", "PIPELINE_RETRY_BASE_MS")
	_ = viper.BindEnv("pipeline.call_timeout_sec", "PIPELINE_CALL_TIMEOUT_SEC")
	_ = viper.BindEnv("pipeline.default_scene_sec", "PIPELINE_DEFAULT_SCENE_SEC")
	_ = viper.BindEnv("encode.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("encode.ffprobe_path", "FFPROBE_PATH")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.generate_per_hour", 10)
	viper.SetDefault("ratelimit.validate_per_min", 30)

	// Provider defaults
	viper.SetDefault("image.base_url", "")
	viper.SetDefault("image.model", "flux-schnell")
	viper.SetDefault("video.base_url", "")
	viper.SetDefault("video.model", "kling-v1")
	viper.SetDefault("video.poll_interval_sec", 5)
	viper.SetDefault("video.poll_max_wait_sec", 600)
	viper.SetDefault("voice.base_url", "")
	viper.SetDefault("voice.model_id", "eleven_multilingual_v2")
	viper.SetDefault("voice.default_voice_id", "narrator")

	// Storage defaults
	viper.SetDefault("storage.region", "auto")

	// Pipeline defaults
	viper.SetDefault("pipeline.work_dir", "./data")
	viper.SetDefault("pipeline.max_scenes", 50)
	viper.SetDefault("pipeline.worker_count", 4)
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.retry_base_ms", 2000)
	viper.SetDefault("pipeline.call_timeout_sec", 180)
	viper.SetDefault("pipeline.default_scene_sec", 5)

	// Encode defaults, fixed so identical inputs render identical outputs
	viper.SetDefault("encode.ffmpeg_path", "ffmpeg")
	viper.SetDefault("encode.ffprobe_path", "ffprobe")
	viper.SetDefault("encode.video_codec", "libx264")
	viper.SetDefault("encode.preset", "medium")
	viper.SetDefault("encode.crf", 23)
	viper.SetDefault("encode.pixel_format", "yuv420p")
	viper.SetDefault("encode.audio_codec", "aac")
	viper.SetDefault("encode.audio_bitrate", "192k")
	viper.SetDefault("encode.fast_start", true)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			ValidatePerMin:  viper.GetInt("ratelimit.validate_per_min"),
		},
		Image: ImageProviderConfig{
			APIKey:  viper.GetString("image.api_key"),
			BaseURL: viper.GetString("image.base_url"),
			Model:   viper.GetString("image.model"),
		},
		Video: VideoProviderConfig{
			APIKey:       viper.GetString("video.api_key"),
			BaseURL:      viper.GetString("video.base_url"),
			Model:        viper.GetString("video.model"),
			PollInterval: time.Duration(viper.GetInt("video.poll_interval_sec")) * time.Second,
			PollMaxWait:  time.Duration(viper.GetInt("video.poll_max_wait_sec")) * time.Second,
		},
		Voice: VoiceProviderConfig{
			APIKey:         viper.GetString("voice.api_key"),
			BaseURL:        viper.GetString("voice.base_url"),
			ModelID:        viper.GetString("voice.model_id"),
			DefaultVoiceID: viper.GetString("voice.default_voice_id"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Bucket:          viper.GetString("storage.bucket"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Pipeline: PipelineConfig{
			WorkDir:         viper.GetString("pipeline.work_dir"),
			MaxScenes:       viper.GetInt("pipeline.max_scenes"),
			WorkerCount:     viper.GetInt("pipeline.worker_count"),
			MaxAttempts:     viper.GetInt("pipeline.max_attempts"),
			RetryBase:       time.Duration(viper.GetInt("pipeline.retry_base_ms")) * time.Millisecond,
			CallTimeout:     time.Duration(viper.GetInt("pipeline.call_timeout_sec")) * time.Second,
			DefaultSceneSec: viper.GetInt("pipeline.default_scene_sec"),
		},
		Encode: EncodeConfig{
			FFmpegPath:   viper.GetString("encode.ffmpeg_path"),
			FFprobePath:  viper.GetString("encode.ffprobe_path"),
			VideoCodec:   viper.GetString("encode.video_codec"),
			Preset:       viper.GetString("encode.preset"),
			CRF:          viper.GetInt("encode.crf"),
			PixelFormat:  viper.GetString("encode.pixel_format"),
			AudioCodec:   viper.GetString("encode.audio_codec"),
			AudioBitrate: viper.GetString("encode.audio_bitrate"),
			FastStart:    viper.GetBool("encode.fast_start"),
		},
	}

	return cfg, nil
}
