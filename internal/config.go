package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/tuannm99/novacat/internal/catalog"
	"github.com/tuannm99/novacat/internal/txn/inval"
)

type NovaCatConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir     string `mapstructure:"workdir" validate:"required"`
		CatalogFile string `mapstructure:"catalog_file" validate:"required"`
	} `mapstructure:"storage"`

	Lock struct {
		DeadlockTimeout time.Duration `mapstructure:"deadlock_timeout" validate:"gt=0"`
	} `mapstructure:"lock"`

	RelCache struct {
		Capacity int `mapstructure:"capacity" validate:"gte=0"`
	} `mapstructure:"relcache"`

	BufferPool struct {
		Capacity int `mapstructure:"capacity" validate:"gte=0"`
	} `mapstructure:"bufferpool"`

	Catalog struct {
		NodeID    int64                       `mapstructure:"node_id" validate:"gte=0,lte=1023"`
		Bootstrap []catalog.BootstrapIdentity `mapstructure:"bootstrap" validate:"dive"`
	} `mapstructure:"catalog"`

	Inval struct {
		Mode  string              `mapstructure:"mode" validate:"oneof=local redis"`
		Redis *inval.RedisOptions `mapstructure:"redis" validate:"required_if=Mode redis"`
	} `mapstructure:"inval"`

	Log LogConfig `mapstructure:"log"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novacat")
	v.SetDefault("storage.workdir", "data")
	v.SetDefault("storage.catalog_file", "catalog.db")
	v.SetDefault("lock.deadlock_timeout", "1s")
	v.SetDefault("relcache.capacity", 1024)
	v.SetDefault("bufferpool.capacity", 128)
	v.SetDefault("catalog.node_id", 1)
	v.SetDefault("inval.mode", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOVACAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*NovaCatConfig, error) {
	var cfg NovaCatConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Catalog.Bootstrap) == 0 {
		cfg.Catalog.Bootstrap = catalog.DefaultBootstrapIdentities
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func LoadConfig(path string) (*NovaCatConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}
