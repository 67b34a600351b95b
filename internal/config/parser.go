package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gc-diffbench/internal/gclog"
	"gc-diffbench/internal/logging"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

func LoadConfig(filepath string) (*Config, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent also returns the raw file so callers can record it.
func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := ParseConfig([]byte(expandEnvVars(originalContent)))
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// ParseConfig unmarshals, defaults and validates an already expanded document.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&config)
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}

	registry := gclog.DefaultRegistry()
	for _, version := range config.GetRuntimeVersions() {
		rt := config.Runtimes[version]
		switch config.Harness.Spawner {
		case "process":
			if rt.Java == "" {
				return fmt.Errorf("runtime %s: java is required for the process spawner", version)
			}
		case "docker":
			if rt.Image == "" {
				return fmt.Errorf("runtime %s: image is required for the docker spawner", version)
			}
		}

		seen := make(map[string]bool)
		for _, name := range rt.Collectors {
			if seen[name] {
				return fmt.Errorf("runtime %s: collector %s listed twice", version, name)
			}
			seen[name] = true

			collector := gclog.CollectorType(name)
			if !registry.Known(collector) {
				return fmt.Errorf("runtime %s: unknown collector %s", version, name)
			}
			if _, ok := rt.Flags[name]; !ok && DefaultCollectorFlags(version, collector) == nil {
				return fmt.Errorf("runtime %s: no flags for collector %s", version, name)
			}
		}
		for name := range rt.Flags {
			if !seen[name] {
				return fmt.Errorf("runtime %s: flags given for undeclared collector %s", version, name)
			}
		}
	}

	for _, name := range config.Harness.IgnoreFailures {
		if !registry.Known(gclog.CollectorType(name)) {
			return fmt.Errorf("ignore_failures: unknown collector %s", name)
		}
	}

	influx := config.InfluxDB
	if influx.Enabled() && (influx.Token == "" || influx.Org == "" || influx.Bucket == "") {
		return fmt.Errorf("incomplete influxdb configuration")
	}
	return nil
}
