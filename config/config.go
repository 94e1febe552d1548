package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Room    RoomConfig    `toml:"room" yaml:"room"`
	Network NetworkConfig `toml:"network" yaml:"network"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Roles   RolesConfig   `toml:"roles" yaml:"roles"`
}

type ServerConfig struct {
	Host       string `toml:"host" yaml:"host"`
	PlayerPort int    `toml:"player_port" yaml:"player_port"`
	AdminPort  int    `toml:"admin_port" yaml:"admin_port"`
	HTTPAddr   string `toml:"http_addr" yaml:"http_addr"` // empty disables /health, /stats, /rooms and /ws
}

type RoomConfig struct {
	DefaultRoom string `toml:"default_room" yaml:"default_room"` // also the room admins are bound to
	MinPlayers  int    `toml:"min_players" yaml:"min_players"`
}

type NetworkConfig struct {
	ReadBufferSize int           `toml:"read_buffer_size" yaml:"read_buffer_size"`
	MaxFrameSize   int           `toml:"max_frame_size" yaml:"max_frame_size"`
	SendQueueSize  int           `toml:"send_queue_size" yaml:"send_queue_size"`
	WriteTimeout   time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `toml:"idle_timeout" yaml:"idle_timeout"` // 0 = never
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "text" or "json"
}

type RolesConfig struct {
	WerewolfRatio int  `toml:"werewolf_ratio" yaml:"werewolf_ratio"` // one werewolf per N players
	Seer          bool `toml:"seer" yaml:"seer"`
}

// Load reads a TOML or YAML file, picked by extension, on top of Defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			PlayerPort: 12345,
			AdminPort:  12346,
		},
		Room: RoomConfig{
			DefaultRoom: "default_game",
			MinPlayers:  4,
		},
		Network: NetworkConfig{
			ReadBufferSize: 1024,
			MaxFrameSize:   64 << 10,
			SendQueueSize:  256,
			WriteTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Roles: RolesConfig{
			WerewolfRatio: 4,
			Seer:          true,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if err := validPort("server.player_port", c.Server.PlayerPort); err != nil {
		errs = append(errs, err)
	}
	if err := validPort("server.admin_port", c.Server.AdminPort); err != nil {
		errs = append(errs, err)
	}
	if c.Server.PlayerPort == c.Server.AdminPort {
		errs = append(errs, fmt.Errorf("server.admin_port must differ from server.player_port (%d)", c.Server.PlayerPort))
	}
	if strings.TrimSpace(c.Room.DefaultRoom) == "" {
		errs = append(errs, errors.New("room.default_room is required"))
	}
	if c.Room.MinPlayers < 1 {
		errs = append(errs, fmt.Errorf("room.min_players must be at least 1, got %d", c.Room.MinPlayers))
	}
	if c.Network.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("network.read_buffer_size must be positive, got %d", c.Network.ReadBufferSize))
	}
	if c.Network.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("network.max_frame_size must be positive, got %d", c.Network.MaxFrameSize))
	}
	if c.Network.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("network.send_queue_size must be positive, got %d", c.Network.SendQueueSize))
	}
	if c.Network.WriteTimeout < 0 || c.Network.IdleTimeout < 0 {
		errs = append(errs, errors.New("network timeouts must not be negative"))
	}
	if c.Roles.WerewolfRatio < 1 {
		errs = append(errs, fmt.Errorf("roles.werewolf_ratio must be at least 1, got %d", c.Roles.WerewolfRatio))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535, got %d", field, port)
	}
	return nil
}
