package common

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// ConfigPathEnv points at an optional yaml or json config file
	ConfigPathEnv = "MAILSYNC_CONFIG"

	// ConfigJSONEnv carries an inline json config, applied last
	ConfigJSONEnv = "MAILSYNC_CONFIG_JSON"
)

//go:embed config.default.yaml
var defaultConfig []byte

// ConfigManager loads layered configuration into T.
// Layers, lowest precedence first: embedded defaults, $MAILSYNC_CONFIG, $MAILSYNC_CONFIG_JSON.
type ConfigManager[T any] struct {
	kf     *koanf.Koanf
	config T
}

func NewConfigManager[T any]() (*ConfigManager[T], error) {
	cm := &ConfigManager[T]{kf: koanf.New(".")}

	if err := cm.kf.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cm.kf.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if inline := os.Getenv(ConfigJSONEnv); inline != "" {
		if err := cm.kf.Load(rawbytes.Provider([]byte(inline)), json.Parser()); err != nil {
			return nil, fmt.Errorf("load inline config: %w", err)
		}
	}

	if err := cm.decode(); err != nil {
		return nil, err
	}
	return cm, nil
}

// GetConfig returns the decoded configuration
func (cm *ConfigManager[T]) GetConfig() T {
	return cm.config
}

func (cm *ConfigManager[T]) decode() error {
	var out T
	err := cm.kf.UnmarshalWithConf("", &out, koanf.UnmarshalConf{
		Tag: "key",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &out,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	cm.config = out
	return nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser()
	default:
		return yaml.Parser()
	}
}
