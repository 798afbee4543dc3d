package websocket

import (
	"MeetingScribe/pkg/util"
	"net/http"
	"strings"
	"time"
)

// Config WebSocket配置
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	SendBufferSize  int
	PongWait        time.Duration
	WriteWait       time.Duration
	// AllowedOrigins 为空时接受任意 Origin (the ingest client is a bot, not a browser)
	AllowedOrigins []string
}

func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		MaxMessageSize:  DefaultMaxMessageSize,
		SendBufferSize:  DefaultSendBufferSize,
		PongWait:        DefaultPongWait * time.Second,
		WriteWait:       DefaultWriteWait * time.Second,
	}
}

// LoadConfigFromEnv 从环境变量加载WebSocket配置
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := util.GetIntEnv(EnvWebSocketReadBufferSize); v > 0 {
		cfg.ReadBufferSize = int(v)
	}
	if v := util.GetIntEnv(EnvWebSocketWriteBufferSize); v > 0 {
		cfg.WriteBufferSize = int(v)
	}
	if v := util.GetIntEnv(EnvWebSocketMaxMessageSize); v > 0 {
		cfg.MaxMessageSize = v
	}
	if v := util.GetIntEnv(EnvWebSocketSendBufferSize); v > 0 {
		cfg.SendBufferSize = int(v)
	}
	if v := util.GetDurationEnv(EnvWebSocketPongWait); v > 0 {
		cfg.PongWait = v
	}
	if v := util.GetEnv(EnvWebSocketAllowedOrigins); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

func (c *Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func (c *Config) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
