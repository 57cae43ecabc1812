package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStartupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	oldLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = old
		zerolog.SetGlobalLevel(oldLevel)
	}()
	InitWith("info", "json", &buf)

	NewStartupLogger("restyle-server").
		DynamoTable("pages", "restyle-table").
		S3Bucket("images", "restyle-bucket").
		Feature("originVerify", true).
		Config("model", "gemini-3-pro-image-preview").
		Log()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("startup log is not JSON: %v\n%s", err, buf.String())
	}
	if doc["message"] != "Startup complete" {
		t.Errorf("message = %v", doc["message"])
	}
	process, _ := doc["process"].(map[string]interface{})
	if process["name"] != "restyle-server" {
		t.Errorf("process.name = %v", process["name"])
	}
	resources, _ := doc["resources"].(map[string]interface{})
	tables, _ := resources["dynamoTables"].(map[string]interface{})
	if tables["pages"] != "restyle-table" {
		t.Errorf("resources.dynamoTables = %v", resources["dynamoTables"])
	}
	features, _ := doc["features"].(map[string]interface{})
	if features["originVerify"] != true {
		t.Errorf("features = %v", doc["features"])
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("RESTYLE_TEST_VAR", "")
	if got := EnvOrDefault("RESTYLE_TEST_VAR", "fallback"); got != "fallback" {
		t.Errorf("empty var: got %q", got)
	}
	t.Setenv("RESTYLE_TEST_VAR", "set")
	if got := EnvOrDefault("RESTYLE_TEST_VAR", "fallback"); got != "set" {
		t.Errorf("set var: got %q", got)
	}
}
