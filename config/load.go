package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/domonda/go-errs"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables
// overriding values of the configuration file.
const EnvPrefix = "LAYERSYNC_"

// Load reads the YAML configuration file filename,
// applies environment variable overrides and validates the result.
func Load(filename string) (cfg *Config, err error) {
	defer errs.WrapWithFuncParams(&err, filename)

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data, nil)
}

// Parse decodes YAML data on top of Defaults,
// applies overrides from environ and validates the result.
// If environ is nil then the process environment is used.
func Parse(data []byte, environ map[string]string) (*Config, error) {
	cfg := Defaults()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, configErrorf("can't parse configuration: %s", err)
	}

	err = env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	})
	if err != nil {
		return nil, configErrorf("can't apply environment: %s", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
