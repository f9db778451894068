package config

import (
	"errors"
	"fmt"
	"math/bits"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the root configuration structure for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	GC          GCConfig          `mapstructure:"gc"`
	Log         LogConfig         `mapstructure:"log"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds the network settings
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	RequirePass string `mapstructure:"requirepass"` // empty disables AUTH
	MaxClients  int    `mapstructure:"max_clients"` // 0 means unlimited
}

// Address returns host:port for net.Listen
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// StorageConfig defines the internal structure of the storage engine
type StorageConfig struct {
	Shards    uint `mapstructure:"shards"`
	Databases int  `mapstructure:"databases"`
}

// LogConfig defines logging verbosity and output style
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// PersistenceConfig defines settings of AOF and RDB methods
type PersistenceConfig struct {
	Dir string    `mapstructure:"dir"`
	AOF AOFConfig `mapstructure:"aof"`
	RDB RDBConfig `mapstructure:"rdb"`
}

// AOFConfig defines settings of AOF method
type AOFConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Filename string `mapstructure:"filename"`
	Fsync    string `mapstructure:"fsync"` // always, everysec, no
}

// RDBConfig defines settings of RDB method
type RDBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Filename string `mapstructure:"filename"`
	Format   string `mapstructure:"format"` // binary, bolt
	Save     string `mapstructure:"save"`   // "<seconds> <changes> ...", empty disables automatic saves
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// AOFPath returns the location of the append only file inside the data directory
func (p PersistenceConfig) AOFPath() string {
	return filepath.Join(p.Dir, p.AOF.Filename)
}

// RDBPath returns the location of the snapshot inside the data directory
func (p PersistenceConfig) RDBPath() string {
	return filepath.Join(p.Dir, p.RDB.Filename)
}

// BindFlags registers the command line overrides on fs
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", ".", "directory containing config.yaml")
	fs.String("host", "", "interface to listen on")
	fs.String("port", "", "TCP port to listen on")
	fs.String("requirepass", "", "password required from clients")
	fs.Int("databases", 0, "number of logical databases")
	fs.String("loglevel", "", "debug, info, warn or error")
}

var flagKeys = map[string]string{
	"host":        "server.host",
	"port":        "server.port",
	"requirepass": "server.requirepass",
	"databases":   "storage.databases",
	"loglevel":    "log.level",
}

// Load reads the configuration from a file and overrides it with environment variables.
// Flags registered with BindFlags have the highest priority, but only when set explicitly.
// fs may be nil
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")

	v.SetEnvPrefix("RUDIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the server can not start with
func (c *Config) Validate() error {
	if c.Storage.Shards == 0 || c.Storage.Shards > 64 || bits.OnesCount(c.Storage.Shards) != 1 {
		return fmt.Errorf("storage.shards must be a power of 2 up to 64, got %d", c.Storage.Shards)
	}
	if c.Storage.Databases < 1 {
		return fmt.Errorf("storage.databases must be positive, got %d", c.Storage.Databases)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("server.max_clients must not be negative, got %d", c.Server.MaxClients)
	}
	if err := c.GC.Validate(); err != nil {
		return err
	}
	switch c.Persistence.AOF.Fsync {
	case "always", "everysec", "no":
	default:
		return fmt.Errorf("persistence.aof.fsync must be always, everysec or no, got %q", c.Persistence.AOF.Fsync)
	}
	switch c.Persistence.RDB.Format {
	case "binary", "bolt":
	default:
		return fmt.Errorf("persistence.rdb.format must be binary or bolt, got %q", c.Persistence.RDB.Format)
	}
	return nil
}

// setDefaults populates viper with fallback values if they are not provided via file or ENV
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "6379")
	v.SetDefault("server.requirepass", "")
	v.SetDefault("server.max_clients", 10000)

	// Storage
	v.SetDefault("storage.shards", 32)
	v.SetDefault("storage.databases", 16)

	// GC
	gc := DefaultGCConfig()
	v.SetDefault("gc.enabled", gc.Enabled)
	v.SetDefault("gc.interval", gc.Interval)
	v.SetDefault("gc.samples_per_check", gc.SamplesPerCheck)
	v.SetDefault("gc.match_threshold", gc.MatchThreshold)
	v.SetDefault("gc.max_rounds", gc.MaxRounds)

	// Logger
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Persistence
	v.SetDefault("persistence.dir", ".")

	v.SetDefault("persistence.aof.enabled", false)
	v.SetDefault("persistence.aof.filename", "appendonly.aof")
	v.SetDefault("persistence.aof.fsync", "everysec")

	v.SetDefault("persistence.rdb.enabled", true)
	v.SetDefault("persistence.rdb.filename", "dump.rdb")
	v.SetDefault("persistence.rdb.format", "binary")
	v.SetDefault("persistence.rdb.save", "900 1 300 10 60 10000")

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9121")
}
