package evhub

import (
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tomlConfig := LoadConfig("./testdata/config.toml")
	yamlConfig := LoadConfig("./testdata/config.yaml")
	for _, config := range []*Config{tomlConfig, yamlConfig} {
		if config.Global.LogLevel != "debug" {
			t.Fatalf("log level: %s", config.Global.LogLevel)
		}
		if config.Ring.Workers != 2 {
			t.Fatalf("workers: %d", config.Ring.Workers)
		}
		if config.Ring.Hub.Name != "worker" {
			t.Fatalf("hub name: %s", config.Ring.Hub.Name)
		}
		if config.Ring.Hub.EventBufferSize != 128 {
			t.Fatalf("event buffer size: %d", config.Ring.Hub.EventBufferSize)
		}
		if !config.Ring.Hub.LockOsThread {
			t.Fatal("lock_os_thread not parsed")
		}
	}
}

func TestValidateConfigDefaults(t *testing.T) {
	config := &Config{}
	validateConfig(config)
	if config.Ring.Workers != 1 {
		t.Fatalf("workers default: %d", config.Ring.Workers)
	}
	if config.Ring.Hub.EventBufferSize != defEventsBufferSize {
		t.Fatalf("event buffer default: %d", config.Ring.Hub.EventBufferSize)
	}
	if config.Ring.Hub.WakeQueueSize != defWakeQueueSize {
		t.Fatalf("wake queue default: %d", config.Ring.Hub.WakeQueueSize)
	}
}
