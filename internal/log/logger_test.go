package log

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
)

func TestConfigureSetsServiceField(t *testing.T) {
	var buf bytes.Buffer
	once = sync.Once{}
	Configure(Config{Output: &buf, Service: "test-service", Level: "debug"})

	logger := Base()
	logger.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["service"] != "test-service" {
		t.Errorf("expected service=test-service, got %v", entry["service"])
	}
	if entry["message"] != "hello" {
		t.Errorf("expected message=hello, got %v", entry["message"])
	}
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	once = sync.Once{}
	Configure(Config{Output: &buf, Service: "svc", Level: "debug"})

	logger := WithComponent("scheduler")
	logger.Info().Msg("tick")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["component"] != "scheduler" {
		t.Errorf("expected component=scheduler, got %v", entry["component"])
	}
}
