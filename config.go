package evhub

import (
	"io/ioutil"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

type HubConfig struct {
	Name            string `yaml:"name" toml:"name"`
	Backend         string `yaml:"backend" toml:"backend"`
	EventBufferSize int    `yaml:"event_buffer_size" toml:"event_buffer_size"`
	LockOsThread    bool   `yaml:"lock_os_thread" toml:"lock_os_thread"`
	WakeQueueSize   int    `yaml:"wake_queue_size" toml:"wake_queue_size"`
	// QueueEndpoints lists pre-opened message-queue descriptors for the
	// queue-socket backend; ignored by the other backends.
	QueueEndpoints []int `yaml:"queue_endpoints" toml:"queue_endpoints"`
}

type RingConfig struct {
	Workers      int       `yaml:"workers" toml:"workers"`
	RaiseFdLimit bool      `yaml:"raise_fd_limit" toml:"raise_fd_limit"`
	Hub          HubConfig `yaml:"hub" toml:"hub"`
}

type Config struct {
	Global Global     `yaml:"global" toml:"global"`
	Ring   RingConfig `yaml:"ring" toml:"ring"`
}

func LoadConfig(filePath string) *Config {
	file, err := ioutil.ReadFile(filePath)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}
	config := &Config{}
	if strings.HasSuffix(filePath, ".toml") {
		err = toml.Unmarshal(file, config)
	} else if strings.HasSuffix(filePath, ".yaml") {
		err = yaml.Unmarshal(file, config)
	}
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}
	validateConfig(config)
	return config
}

func validateConfig(config *Config) {
	if config.Ring.Workers <= 0 {
		config.Ring.Workers = 1
	}
	if config.Ring.Hub.EventBufferSize <= 0 {
		config.Ring.Hub.EventBufferSize = defEventsBufferSize
	}
	if config.Ring.Hub.WakeQueueSize <= 0 {
		config.Ring.Hub.WakeQueueSize = defWakeQueueSize
	}
}
