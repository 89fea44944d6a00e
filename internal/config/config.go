package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Log       LogConfig       `toml:"log"`
	Peer      PeerConfig      `toml:"peer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// AllowedOrigins lists browser origins that may open the socket. "*"
	// allows any.
	AllowedOrigins []string `toml:"allowed_origins"`
	StaticDir      string   `toml:"static_dir"`
}

type WebSocketConfig struct {
	ReadBufferSize  int      `toml:"read_buffer_size"`
	WriteBufferSize int      `toml:"write_buffer_size"`
	MaxMessageSize  int64    `toml:"max_message_size"`
	WriteWait       Duration `toml:"write_wait"`
	PongWait        Duration `toml:"pong_wait"`
	SendBuffer      int      `toml:"send_buffer"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type PeerConfig struct {
	ServerURL     string   `toml:"server_url"`
	ICEServers    []string `toml:"ice_servers"`
	GatherTimeout Duration `toml:"gather_timeout"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			MaxMessageSize:  64 * 1024,
			WriteWait:       Duration{10 * time.Second},
			PongWait:        Duration{60 * time.Second},
			SendBuffer:      256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Peer: PeerConfig{
			ServerURL:     "ws://localhost:8000/ws",
			ICEServers:    []string{"stun:stun.l.google.com:19302"},
			GatherTimeout: Duration{5 * time.Second},
		},
	}
}

// Load reads path over the defaults, then applies MEET_* environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MEET_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("MEET_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("MEET_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v, ok := lookup("MEET_SERVER_URL"); ok && v != "" {
		c.Peer.ServerURL = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.WebSocket.WriteWait.Duration <= 0 || c.WebSocket.PongWait.Duration <= 0 {
		errs = append(errs, errors.New("websocket waits must be positive"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
