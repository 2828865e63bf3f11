package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	Expander       EnvironmentExpander
	EnvFilePath    string `name:"envFilePath" optional:"true"`    // Path to a .env file.
	ConfigFilePath string `name:"configFilePath" optional:"true"` // Optional YAML file layered over the embedded one.
}

// LoadConfig builds the configuration in four layers: defaults from
// NewConfig, the embedded YAML, an optional YAML file, then WPMIGRATE_*
// environment variables (after loading the .env file).
func LoadConfig(envFilePath string, embedded EmbeddedConfig, configFilePath string, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()
	if err := applyYAML(cfg, embedded, expander); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	if configFilePath != "" {
		raw, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read config file %s", configFilePath), err, false, false)
		}
		if err := applyYAML(cfg, raw, expander); err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to unmarshal config file %s", configFilePath), err, false, false)
		}
	}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	if err := validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an fx provider that loads *Config and applies the log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig, params.ConfigFilePath, params.Expander)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.System.Logging.Level)
	return cfg, nil
}

// applyYAML decodes raw over cfg. Keys absent from raw keep their current
// value, so explicit false/0 values in YAML win over defaults.
func applyYAML(cfg *Config, raw []byte, expander EnvironmentExpander) error {
	if len(raw) == 0 {
		return nil
	}
	expanded, err := expander.Expand(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(expanded, cfg)
}

func validate(cfg *Config) error {
	switch cfg.Migration.LockBackend {
	case "sql", "memory":
	default:
		return fmt.Errorf("migration.lock_backend must be 'sql' or 'memory', got '%s'", cfg.Migration.LockBackend)
	}
	if cfg.Migration.Download.MaxAttempts < 1 {
		return fmt.Errorf("migration.download.max_attempts must be at least 1")
	}
	if cfg.Migration.Download.BackoffSeconds < 0 {
		return fmt.Errorf("migration.download.backoff_seconds must not be negative")
	}
	return nil
}

// loadStructFromEnv overrides scalar fields of val from environment variables
// named after their yaml path, e.g. WPMIGRATE_SOURCE_DB_HOST. Slices and maps
// cannot be set this way.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := range typ.NumField() {
		tag, _, _ := strings.Cut(typ.Field(i).Tag.Get("yaml"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.ToUpper(prefix + tag)
		target := val.Field(i)

		switch target.Kind() {
		case reflect.Struct:
			if err := loadStructFromEnv(target, name+"_"); err != nil {
				return err
			}
		case reflect.Slice, reflect.Map:
		default:
			raw, ok := os.LookupEnv(name)
			if !ok || !target.CanSet() {
				continue
			}
			if err := mapstructure.WeakDecode(raw, target.Addr().Interface()); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}
