package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	ServerURL string
	APIURL    string

	RateMax    int
	RateWindow time.Duration

	ReconnectAttempts int
	BackoffBase       time.Duration
	BackoffMax        time.Duration

	// Store is "file:<path>" or a postgres DSN.
	Store   string
	DevAddr string

	LogLevel zapcore.Level
}

func Default() Config {
	return Config{
		ServerURL:         "ws://localhost:8080/ws",
		APIURL:            "http://localhost:8080",
		RateMax:           MaxMessagesPerWindow,
		RateWindow:        RateLimitWindow,
		ReconnectAttempts: MaxReconnectAttempts,
		BackoffBase:       BackoffBase,
		BackoffMax:        BackoffMax,
		Store:             "file:.quiz-player.json",
		DevAddr:           ":8080",
		LogLevel:          zapcore.InfoLevel,
	}
}

// Load reads an optional .env file and then the environment. Unset
// variables keep their defaults; malformed ones are errors.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	p := parser{getenv: getenv}

	p.str("QUIZ_SERVER_URL", &c.ServerURL)
	p.str("QUIZ_API_URL", &c.APIURL)
	p.positive("QUIZ_RATE_MAX", &c.RateMax)
	p.duration("QUIZ_RATE_WINDOW", &c.RateWindow)
	p.positive("QUIZ_RECONNECT_ATTEMPTS", &c.ReconnectAttempts)
	p.duration("QUIZ_BACKOFF_BASE", &c.BackoffBase)
	p.duration("QUIZ_BACKOFF_MAX", &c.BackoffMax)
	p.str("QUIZ_STORE", &c.Store)
	p.str("QUIZ_DEV_ADDR", &c.DevAddr)

	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			p.fail("LOG_LEVEL", v)
		} else {
			c.LogLevel = lvl
		}
	}

	if p.err != nil {
		return Config{}, p.err
	}
	if c.BackoffMax < c.BackoffBase {
		return Config{}, fmt.Errorf("%w: QUIZ_BACKOFF_MAX %v is below QUIZ_BACKOFF_BASE %v", ErrInvalid, c.BackoffMax, c.BackoffBase)
	}
	return c, nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) fail(key, val string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q", ErrInvalid, key, val)
	}
}

func (p *parser) str(key string, dst *string) {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		*dst = v
	}
}

func (p *parser) positive(key string, dst *int) {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.fail(key, v)
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(key, v)
		return
	}
	*dst = d
}

// Logger builds a console logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if c.LogLevel > zapcore.DebugLevel {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return zc.Build()
}
