package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultDataRoot   = "data"

	DefaultMaxMessagesPerChannel = 500
	DefaultKeepOnClear           = 50
	DefaultDebounce              = "1s"
	DefaultSweepInterval         = "5m"
	DefaultFetchTimeout          = "30s"

	DefaultImageCap = 100
	DefaultMediaCap = 20

	DefaultMemoryHandleCap = 30
	DefaultMemoryCapMiB    = 50
	DefaultItemCeilingMiB  = 12
	DefaultPersistentCap   = 500
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Data        DataConfig        `toml:"data"`
	Archive     ArchiveConfig     `toml:"archive"`
	MediaCache  MediaCacheConfig  `toml:"media_cache"`
	DeviceCache DeviceCacheConfig `toml:"device_cache"`
	Ingest      IngestConfig      `toml:"ingest"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type DataConfig struct {
	Root string `toml:"root" validate:"required"`
}

type ArchiveConfig struct {
	MaxMessagesPerChannel int    `toml:"max_messages_per_channel" validate:"gt=0"`
	KeepOnClear           int    `toml:"keep_on_clear" validate:"gte=0"`
	Debounce              string `toml:"debounce"`
	SweepInterval         string `toml:"sweep_interval"`
}

type MediaCacheConfig struct {
	ImageCap      int    `toml:"image_cap" validate:"gt=0"`
	MediaCap      int    `toml:"media_cap" validate:"gt=0"`
	SweepInterval string `toml:"sweep_interval"`
	FetchTimeout  string `toml:"fetch_timeout"`
}

type DeviceCacheConfig struct {
	MemoryHandleCap int  `toml:"memory_handle_cap" validate:"gt=0"`
	MemoryCapMiB    int  `toml:"memory_cap_mib" validate:"gt=0"`
	ItemCeilingMiB  int  `toml:"item_ceiling_mib" validate:"gt=0"`
	PersistentCap   int  `toml:"persistent_cap" validate:"gt=0"`
	ResetOnStart    bool `toml:"reset_on_start"`
}

type BlockedPlatformConfig struct {
	Name  string `toml:"name" validate:"required"`
	Exact bool   `toml:"exact"`
}

type IngestConfig struct {
	BlockedPlatforms []BlockedPlatformConfig `toml:"blocked_platforms" validate:"dive"`
}

// Duration parses s, falling back to def when s is empty or malformed.
func Duration(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Data: DataConfig{
			Root: DefaultDataRoot,
		},
		Archive: ArchiveConfig{
			MaxMessagesPerChannel: DefaultMaxMessagesPerChannel,
			KeepOnClear:           DefaultKeepOnClear,
			Debounce:              DefaultDebounce,
			SweepInterval:         DefaultSweepInterval,
		},
		MediaCache: MediaCacheConfig{
			ImageCap:      DefaultImageCap,
			MediaCap:      DefaultMediaCap,
			SweepInterval: DefaultSweepInterval,
			FetchTimeout:  DefaultFetchTimeout,
		},
		DeviceCache: DeviceCacheConfig{
			MemoryHandleCap: DefaultMemoryHandleCap,
			MemoryCapMiB:    DefaultMemoryCapMiB,
			ItemCeilingMiB:  DefaultItemCeilingMiB,
			PersistentCap:   DefaultPersistentCap,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
