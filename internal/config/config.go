package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Canvas    CanvasConfig
	Limiter   LimiterConfig
	Log       LogConfig
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig PostgreSQL 설정
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// NATSConfig 컴팩션 작업 큐(JetStream) 설정
// URL이 비어 있으면 작업을 프로세스 안에서 바로 실행한다.
type NATSConfig struct {
	URL          string
	Stream       string
	Subject      string
	Durable      string
	DedupWindow  time.Duration
	MaxDeliver   int
	AckWait      time.Duration
	RetryBackoff time.Duration
}

// CanvasConfig 캔버스 동기화/컴팩션 설정
type CanvasConfig struct {
	MaxPendingEvents int64
	PendingTTL       time.Duration
	LockTTL          time.Duration
	SnapshotCacheTTL time.Duration
	SnapshotBlobTTL  time.Duration
	OutboundBuffer   int
	PresenceRefresh  time.Duration
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	CookieName        string
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// LimiterConfig WebSocket 핸드셰이크 Rate Limit 설정
type LimiterConfig struct {
	Max        int
	Expiration time.Duration
}

// LogConfig 로그 설정
type LogConfig struct {
	Level  string
	Pretty bool
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	// 필수 환경 변수 검증
	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal().Msg("CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			CookieName:        getEnv("ACCESS_TOKEN_COOKIE", "access_token"),
		},
		Redis:    LoadRedis(),
		Database: LoadDatabase(),
		NATS:     LoadNATS(),
		Canvas:   LoadCanvas(),
		Limiter: LimiterConfig{
			Max:        getInt("WS_HANDSHAKE_LIMIT", 30),
			Expiration: getDuration("WS_HANDSHAKE_LIMIT_WINDOW", 1*time.Minute),
		},
		Log: LoadLog(),
	}
}

// LoadDatabase DB 설정만 로드 (compactor, snapshotctl 에서도 사용)
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "postgres"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		TimeZone: getEnv("DB_TIMEZONE", "UTC"),
	}
}

// LoadNATS NATS 설정만 로드
func LoadNATS() NATSConfig {
	return NATSConfig{
		URL:          getEnv("NATS_URL", ""),
		Stream:       getEnv("NATS_STREAM", "CANVAS_COMPACTION"),
		Subject:      getEnv("NATS_SUBJECT", "canvas.compaction"),
		Durable:      getEnv("NATS_DURABLE", "canvas-compactor"),
		DedupWindow:  getDuration("NATS_DEDUP_WINDOW", 10*time.Minute),
		MaxDeliver:   getInt("NATS_MAX_DELIVER", 5),
		AckWait:      getDuration("NATS_ACK_WAIT", 30*time.Second),
		RetryBackoff: getDuration("NATS_RETRY_BACKOFF", 5*time.Second),
	}
}

// LoadCanvas 캔버스 동기화/컴팩션 설정만 로드
func LoadCanvas() CanvasConfig {
	return CanvasConfig{
		MaxPendingEvents: int64(getInt("CANVAS_MAX_PENDING_EVENTS", 100)),
		PendingTTL:       getDuration("CANVAS_PENDING_TTL", 24*time.Hour),
		LockTTL:          getDuration("CANVAS_LOCK_TTL", 30*time.Second),
		SnapshotCacheTTL: getDuration("CANVAS_SNAPSHOT_CACHE_TTL", 24*time.Hour),
		SnapshotBlobTTL:  getDuration("CANVAS_SNAPSHOT_BLOB_TTL", 1*time.Hour),
		OutboundBuffer:   getInt("CANVAS_OUTBOUND_BUFFER", 256),
		PresenceRefresh:  getDuration("CANVAS_PRESENCE_REFRESH", 10*time.Minute),
	}
}

// LoadRedis Redis 설정만 로드
func LoadRedis() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getInt("REDIS_DB", 0),
	}
}

// LoadLog 로그 설정만 로드
func LoadLog() LogConfig {
	return LogConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Pretty: getBool("LOG_PRETTY", false),
	}
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatal().Str("key", key).Msg("CRITICAL: Required environment variable is not set!")
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
