package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"interview_room/native/internal/domain"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store backends selectable with STATE_STORE.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// DefaultICEServers is used when neither ICE_SERVERS nor ICE_SERVERS_FILE is set.
var DefaultICEServers = []domain.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{
		URLs:       []string{"turn:openrelay.metered.ca:80"},
		Username:   "openrelayproject",
		Credential: "openrelayproject",
	},
}

// Config holds the participant configuration.
type Config struct {
	SignalingURL string
	Room         domain.RoomID
	Role         domain.Role
	UserName     string
	Token        string
	BackendURL   string

	VideoSource string
	AudioSource string
	LoopMedia   bool
	Constraints domain.Constraints

	// RemoteVideoOut receives the other party's H264 stream; "-" is stdout.
	RemoteVideoOut string

	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	NegotiationRetries int

	ICEServers []domain.ICEServer
	Store      StoreConfig
}

// StoreConfig selects where room state is persisted.
type StoreConfig struct {
	Kind          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	SQLitePath    string
}

// ServerConfig holds the signaling server configuration.
type ServerConfig struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	// JWTSecret enables token checks on /ws when set.
	JWTSecret string
}

type iceFile struct {
	ICEServers []domain.ICEServer `toml:"ice_servers"`
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	room := os.Getenv("ROOM_ID")
	if room == "" {
		return nil, fmt.Errorf("ROOM_ID environment variable is required")
	}

	role, err := domain.ParseRole(os.Getenv("ROLE"))
	if err != nil {
		return nil, fmt.Errorf("ROLE: %w", err)
	}

	cfg := &Config{
		SignalingURL: getEnv("SIGNALING_URL", "ws://localhost:5000/ws"),
		Room:         domain.RoomID(room),
		Role:         role,
		UserName:     strings.TrimSpace(getEnv("USER_NAME", string(role))),
		Token:        os.Getenv("AUTH_TOKEN"),
		BackendURL:   os.Getenv("BACKEND_URL"),
		VideoSource:  os.Getenv("VIDEO_SOURCE"),
		AudioSource:  os.Getenv("AUDIO_SOURCE"),

		RemoteVideoOut: getEnv("REMOTE_VIDEO_OUT", "-"),

		Store: StoreConfig{
			Kind:          getEnv("STATE_STORE", StoreMemory),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			SQLitePath:    getEnv("SQLITE_PATH", "interview.db"),
		},
	}

	if cfg.LoopMedia, err = getBool("LOOP_MEDIA", true); err != nil {
		return nil, err
	}
	if cfg.Constraints.Width, err = getInt("VIDEO_WIDTH", 1280); err != nil {
		return nil, err
	}
	if cfg.Constraints.Height, err = getInt("VIDEO_HEIGHT", 720); err != nil {
		return nil, err
	}
	if cfg.Constraints.FPS, err = getInt("VIDEO_FPS", 30); err != nil {
		return nil, err
	}
	cfg.Constraints.Audio = cfg.AudioSource != ""

	if cfg.ReconnectAttempts, err = getInt("RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay, err = getDuration("RECONNECT_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.NegotiationRetries, err = getInt("NEGOTIATION_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.Store.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Store.RedisTTL, err = getDuration("REDIS_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	switch cfg.Store.Kind {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return nil, fmt.Errorf("STATE_STORE: unknown store %q (want memory, redis or sqlite)", cfg.Store.Kind)
	}

	if cfg.ICEServers, err = loadICEServers(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer reads the signaling server configuration.
func LoadServer() *ServerConfig {
	_ = godotenv.Load()

	return &ServerConfig{
		Port:           getEnv("PORT", "5000"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnvs("ALLOWED_ORIGINS", ","),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}
}

// loadICEServers prefers ICE_SERVERS_FILE, then ICE_SERVERS (space separated
// URLs sharing TURN_USERNAME/TURN_CREDENTIAL), then the defaults.
func loadICEServers() ([]domain.ICEServer, error) {
	if path := os.Getenv("ICE_SERVERS_FILE"); path != "" {
		var f iceFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("read ICE_SERVERS_FILE: %w", err)
		}
		if len(f.ICEServers) == 0 {
			return nil, fmt.Errorf("ICE_SERVERS_FILE %s: no [[ice_servers]] entries", path)
		}
		return f.ICEServers, nil
	}

	urls := getEnvs("ICE_SERVERS", " ")
	if len(urls) == 0 {
		return DefaultICEServers, nil
	}

	username := os.Getenv("TURN_USERNAME")
	credential := os.Getenv("TURN_CREDENTIAL")
	servers := make([]domain.ICEServer, 0, len(urls))
	for _, u := range urls {
		s := domain.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvs(key, sep string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), sep) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

// getDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
