package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Capture   CaptureConfig   `yaml:"capture"`
	Inference InferenceConfig `yaml:"inference"`
	Events    EventsConfig    `yaml:"events"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	DB        DBConfig        `yaml:"db"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Dir         string `yaml:"dir"`
	ImgSubdir   string `yaml:"img_subdir"`
	VideoSubdir string `yaml:"video_subdir"`
}

type CaptureConfig struct {
	DefaultFPS    float64 `yaml:"default_fps"`
	DefaultWidth  int     `yaml:"default_width"`
	DefaultHeight int     `yaml:"default_height"`
	BufferSize    int     `yaml:"buffer_size"`
}

type InferenceConfig struct {
	ModelPath     string  `yaml:"model_path"`
	ConfThreshold float64 `yaml:"conf_threshold"`
	ResultsBuffer int     `yaml:"results_buffer"`
}

type EventsConfig struct {
	MinConfidence       float64  `yaml:"min_confidence"`
	AllowedClasses      []string `yaml:"allowed_classes"`
	CooldownSeconds     int      `yaml:"cooldown_seconds"`
	ClipLeadingSeconds  int      `yaml:"clip_leading_seconds"`
	ClipTrailingSeconds int      `yaml:"clip_trailing_seconds"`
	ClipFPS             int      `yaml:"clip_fps"`
	EnableAlerts        bool     `yaml:"enable_alerts"`
	AlertWorkers        int      `yaml:"alert_workers"`
	AlertQueue          int      `yaml:"alert_queue"`
}

type WebRTCConfig struct {
	ICEServers        []string `yaml:"ice_servers"`
	StaleAfterSeconds int      `yaml:"stale_after_seconds"`
}

type NATSConfig struct {
	URL            string `yaml:"url"`
	DetectSubject  string `yaml:"detect_subject"`
	AlertSubject   string `yaml:"alert_subject"`
	InferTimeoutMS int    `yaml:"infer_timeout_ms"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the built-in configuration. Load layers the yaml
// file and env overrides on top of this.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8000"},
		Storage: StorageConfig{Dir: "storage", ImgSubdir: "images", VideoSubdir: "videos"},
		Capture: CaptureConfig{
			DefaultFPS:    15,
			DefaultWidth:  640,
			DefaultHeight: 480,
			BufferSize:    10,
		},
		Inference: InferenceConfig{ConfThreshold: 0.5, ResultsBuffer: 5},
		Events: EventsConfig{
			MinConfidence:       0.5,
			AllowedClasses:      []string{"person"},
			CooldownSeconds:     30,
			ClipLeadingSeconds:  5,
			ClipTrailingSeconds: 30,
			ClipFPS:             20,
			EnableAlerts:        true,
			AlertWorkers:        4,
			AlertQueue:          64,
		},
		WebRTC: WebRTCConfig{
			ICEServers:        []string{"stun:stun.l.google.com:19302"},
			StaleAfterSeconds: 2,
		},
		NATS: NATSConfig{
			DetectSubject:  "nexguard.detect",
			AlertSubject:   "nexguard.alerts",
			InferTimeoutMS: 1500,
		},
		Redis: RedisConfig{Addr: "localhost:6379", TTLSeconds: 10},
		DB:    DBConfig{Host: "localhost", Port: "5432", SSLMode: "disable"},
	}
}

// Load reads path and merges it over Default. A missing file is not an
// error; the defaults run fine for local dev.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// DB credentials and addresses come from env in deployment.
func (c *Config) applyEnv() {
	envOver(&c.DB.Host, "DB_HOST")
	envOver(&c.DB.Port, "DB_PORT")
	envOver(&c.DB.User, "DB_USER")
	envOver(&c.DB.Password, "DB_PASSWORD")
	envOver(&c.DB.Name, "DB_NAME")
	envOver(&c.DB.SSLMode, "DB_SSLMODE")
	envOver(&c.Redis.Addr, "REDIS_ADDR")
	envOver(&c.NATS.URL, "NATS_URL")
	envOver(&c.Auth.JWTSecret, "JWT_SIGNING_KEY")
}

func envOver(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func (c EventsConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c EventsConfig) ClipLead() time.Duration {
	return time.Duration(c.ClipLeadingSeconds) * time.Second
}

func (c EventsConfig) ClipTrail() time.Duration {
	return time.Duration(c.ClipTrailingSeconds) * time.Second
}

func (c NATSConfig) InferTimeout() time.Duration {
	return time.Duration(c.InferTimeoutMS) * time.Millisecond
}

func (c WebRTCConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}
