package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file inside a test directory and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `oddsflow:
  name: "TestApp"
  version: "1.0"
pipeline:
  threshold: 0.1
processor:
  max_workers: 4
source:
  kind: http
  http:
    url: "http://localhost:8080/odds"
    timeout: 2s
storage:
  sink: local
  local:
    dir: /tmp/odds
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Oddsflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Oddsflow.Name)
	}
	if cfg.Pipeline.Threshold != 0.1 {
		t.Errorf("unexpected threshold: %v", cfg.Pipeline.Threshold)
	}
	if cfg.Processor.MaxWorkers != 4 {
		t.Errorf("unexpected max workers: %d", cfg.Processor.MaxWorkers)
	}
	if cfg.Source.HTTP.Timeout != 2*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.Source.HTTP.Timeout)
	}
	// untouched defaults survive
	if cfg.Source.HTTP.Retry.MaxAttempts != 3 {
		t.Errorf("expected default retry attempts, got %d", cfg.Source.HTTP.Retry.MaxAttempts)
	}
	if cfg.Destination() != "/tmp/odds" {
		t.Errorf("unexpected destination: %s", cfg.Destination())
	}
}

func TestLoadConfigDefaultsThreshold(t *testing.T) {
	path := writeTempConfig(t, "oddsflow:\n  name: x\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold %v, got %v", DefaultThreshold, cfg.Pipeline.Threshold)
	}
	if cfg.Source.Kind != SourceFixture || cfg.Storage.Sink != SinkLocal {
		t.Errorf("unexpected default kinds: %s/%s", cfg.Source.Kind, cfg.Storage.Sink)
	}
}

func TestSinkIdentifierOverridesSinkField(t *testing.T) {
	t.Setenv("ODDSFLOW_SINK_IDENTIFIER", "")
	path := writeTempConfig(t, `oddsflow:
  name: x
pipeline:
  sink_identifier: odds-monitor-dev
storage:
  sink: s3
  s3:
    bucket: other-bucket
    region: eu-west-1
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Destination() != "odds-monitor-dev" {
		t.Errorf("unexpected destination: %s", cfg.Destination())
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"negative threshold": "oddsflow:\n  name: x\npipeline:\n  threshold: -1\n",
		"unknown source":     "oddsflow:\n  name: x\nsource:\n  kind: ftp\n",
		"http without url":   "oddsflow:\n  name: x\nsource:\n  kind: http\n",
		"unknown sink":       "oddsflow:\n  name: x\nstorage:\n  sink: tape\n",
		"kafka no brokers":   "oddsflow:\n  name: x\nstorage:\n  sink: kafka\n",
		"bad bucket":         "oddsflow:\n  name: x\nstorage:\n  sink: s3\n  s3:\n    bucket: Bad_Bucket\n    region: us-east-1\n",
		"bad compression":    "oddsflow:\n  name: x\nwriter:\n  compression: lz77\n",
		"missing name":       "oddsflow:\n  name: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTempConfig(t, content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestS3EnvOverrides(t *testing.T) {
	t.Setenv("S3_BUCKET", "env-bucket")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("ODDSFLOW_SINK_IDENTIFIER", "")
	path := writeTempConfig(t, "oddsflow:\n  name: x\nstorage:\n  sink: s3\n  s3:\n    bucket: file-bucket\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.S3.Bucket != "env-bucket" || cfg.Storage.S3.Region != "us-west-2" {
		t.Errorf("env overrides not applied: %+v", cfg.Storage.S3)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"angstrom-odds-monitor-dev", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != "production" || !IsProductionLike(env) {
		t.Fatalf("unexpected environment %q", env)
	}
	t.Setenv("APP_ENV", "")
	if env := AppEnvironment(); env != "development" || IsProductionLike(env) {
		t.Fatalf("unexpected environment %q", env)
	}
}

func TestResolvePathKeepsExplicitPath(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	if got := ResolvePath("/etc/oddsflow.yml"); got != "/etc/oddsflow.yml" {
		t.Fatalf("explicit path rewritten to %s", got)
	}
	// no config/config.production.yml exists relative to the test directory
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("expected default path, got %s", got)
	}
}
