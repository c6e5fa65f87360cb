package servicemanager

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PublisherFileConfig maps the optional YAML configuration file of the
// publish-event tool. Every field may be overridden by flags or environment.
type PublisherFileConfig struct {
	ProjectID   string            `yaml:"project_id"`
	Topic       string            `yaml:"topic"`
	Credentials string            `yaml:"credentials,omitempty"`
	CreateTopic *bool             `yaml:"create_topic,omitempty"`
	TopicLabels map[string]string `yaml:"topic_labels,omitempty"`
	Publish     PublishSpec       `yaml:"publish,omitempty"`
}

// PublishSpec holds the SDK batching thresholds. Zero values keep the defaults.
type PublishSpec struct {
	DelayThreshold time.Duration `yaml:"delay_threshold,omitempty"`
	CountThreshold int           `yaml:"count_threshold,omitempty"`
	ByteThreshold  int           `yaml:"byte_threshold,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into PublisherFileConfig, and performs basic validation.
func LoadConfig(configPath string) (*PublisherFileConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	var config PublisherFileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", configPath, err)
	}

	if config.Publish.CountThreshold < 0 || config.Publish.ByteThreshold < 0 {
		return nil, fmt.Errorf("validation error: publish thresholds in '%s' cannot be negative", configPath)
	}
	if config.Publish.DelayThreshold < 0 || config.Publish.Timeout < 0 {
		return nil, fmt.Errorf("validation error: publish durations in '%s' cannot be negative", configPath)
	}
	return &config, nil
}
