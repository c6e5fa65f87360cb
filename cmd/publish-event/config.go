package main

import (
	"fmt"
	"os"

	"github.com/illmade-knight/go-iot-events/pkg/messagepipeline"
	"github.com/illmade-knight/go-iot-events/pkg/servicemanager"
)

// publisherConfig resolves connection settings with the precedence
// flag > environment > YAML config file.
func (a *app) publisherConfig() (*messagepipeline.PublisherConfig, error) {
	var fileCfg servicemanager.PublisherFileConfig
	if a.opts.configPath != "" {
		loaded, err := servicemanager.LoadConfig(a.opts.configPath)
		if err != nil {
			return nil, err
		}
		fileCfg = *loaded
	}

	projectID := firstNonEmpty(a.opts.projectID, os.Getenv(envProjectID), fileCfg.ProjectID)
	topicID := firstNonEmpty(a.opts.topic, os.Getenv(envTopic), fileCfg.Topic)
	if projectID == "" {
		return nil, fmt.Errorf("%s must be set in environment or passed as --project-id", envProjectID)
	}
	if topicID == "" {
		return nil, fmt.Errorf("%s must be set in environment or passed as --topic", envTopic)
	}

	cfg := messagepipeline.NewPublisherConfig(projectID, topicID)
	cfg.CredentialsFile = firstNonEmpty(a.opts.credentials, os.Getenv(envCredentials), fileCfg.Credentials)
	cfg.TopicLabels = fileCfg.TopicLabels
	if fileCfg.CreateTopic != nil {
		cfg.CreateTopic = *fileCfg.CreateTopic
	}
	if a.opts.noCreateTopic {
		cfg.CreateTopic = false
	}

	p := fileCfg.Publish
	if p.DelayThreshold > 0 {
		cfg.PublishSettings.DelayThreshold = p.DelayThreshold
	}
	if p.CountThreshold > 0 {
		cfg.PublishSettings.CountThreshold = p.CountThreshold
	}
	if p.ByteThreshold > 0 {
		cfg.PublishSettings.ByteThreshold = p.ByteThreshold
	}
	if p.Timeout > 0 {
		cfg.PublishSettings.Timeout = p.Timeout
	}

	a.logger.Debug().
		Str("project_id", cfg.ProjectID).
		Str("topic_id", cfg.TopicID).
		Bool("create_topic", cfg.CreateTopic).
		Bool("explicit_credentials", cfg.CredentialsFile != "").
		Msg("Resolved publisher configuration")
	return cfg, nil
}
