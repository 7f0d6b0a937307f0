package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBytesYAML(t *testing.T) {
	doc := []byte(`
environment: prod
webservers:
  match: "role:web"
  sls:
    - nginx
  require:
    - databases
databases:
  match:
    - "role:db"
    - "role:cache"
  function: pkg.install
  fun_args:
    - mysql
  batch: 25%
`)

	d, err := LoadBytes("stages.yaml", doc, FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	if d.Environment != "prod" {
		t.Errorf("Environment = %q, want %q", d.Environment, "prod")
	}
	if len(d.Stages) != 2 {
		t.Fatalf("parsed %d stages, want 2", len(d.Stages))
	}
	if _, ok := d.Stages["environment"]; ok {
		t.Error("reserved environment key leaked into stages")
	}

	web, ok := d.Stages["webservers"].(map[string]interface{})
	if !ok {
		t.Fatalf("webservers body is %T, want mapping", d.Stages["webservers"])
	}
	if web["match"] != "role:web" {
		t.Errorf("webservers match = %v", web["match"])
	}
	req, ok := web["require"].([]interface{})
	if !ok || len(req) != 1 || req[0] != "databases" {
		t.Errorf("webservers require = %v", web["require"])
	}

	db := d.Stages["databases"].(map[string]interface{})
	if db["batch"] != "25%" {
		t.Errorf("databases batch = %v, want 25%%", db["batch"])
	}
}

func TestLoadBytesYAMLEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
		stages  int
	}{
		{
			name:   "empty document",
			doc:    "",
			stages: 0,
		},
		{
			name:   "only environment",
			doc:    "environment: base\n",
			stages: 0,
		},
		{
			name:    "top level is a list",
			doc:     "- one\n- two\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			doc:     "stage: [unclosed\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := LoadBytes("stages.yaml", []byte(tt.doc), FormatYAML)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(d.Stages) != tt.stages {
				t.Errorf("parsed %d stages, want %d", len(d.Stages), tt.stages)
			}
		})
	}
}

func TestLoadBytesCUE(t *testing.T) {
	doc := []byte(`
environment: "base"

webservers: {
	match: "role:web"
	sls: ["nginx", "php"]
	require: ["databases"]
}

databases: {
	match: "role:db"
	function: "pkg.install"
	fun_args: ["mysql"]
}
`)

	d, err := LoadBytes("stages.cue", doc, FormatCUE)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if d.Environment != "base" {
		t.Errorf("Environment = %q, want base", d.Environment)
	}
	if len(d.Stages) != 2 {
		t.Fatalf("parsed %d stages, want 2", len(d.Stages))
	}

	web := d.Stages["webservers"].(map[string]interface{})
	sls, ok := web["sls"].([]interface{})
	if !ok || len(sls) != 2 {
		t.Errorf("webservers sls = %v", web["sls"])
	}
}

func TestLoadBytesCUERejectsBadStage(t *testing.T) {
	// match must be a string or list of strings.
	doc := []byte(`
webservers: {
	match: 42
}
`)
	if _, err := LoadBytes("stages.cue", doc, FormatCUE); err == nil {
		t.Fatal("LoadBytes() accepted a stage with a numeric match")
	}
}

func TestLoadBytesStarlark(t *testing.T) {
	doc := []byte(`
_roles = ["web", "db"]

stages = {
    role + "-setup": {
        "match": "role:" + role,
        "sls": [role],
    }
    for role in _roles
}

standalone = {
    "match": "*",
    "function": "test.ping",
}
`)

	d, err := LoadBytes("stages.star", doc, FormatStarlark)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if len(d.Stages) != 3 {
		t.Fatalf("parsed %d stages, want 3 (got %v)", len(d.Stages), d.Stages)
	}

	web, ok := d.Stages["web-setup"].(map[string]interface{})
	if !ok {
		t.Fatalf("web-setup body is %T, want mapping", d.Stages["web-setup"])
	}
	if web["match"] != "role:web" {
		t.Errorf("web-setup match = %v", web["match"])
	}
	if _, ok := d.Stages["_roles"]; ok {
		t.Error("underscore-prefixed global leaked into stages")
	}
	if _, ok := d.Stages["standalone"]; !ok {
		t.Error("standalone global missing from stages")
	}
}

func TestLoadBytesStarlarkErrors(t *testing.T) {
	if _, err := LoadBytes("bad.star", []byte(`stages = undefined_name`), FormatStarlark); err == nil {
		t.Fatal("LoadBytes() accepted a failing script")
	}
}

func TestLoadPathFormatDetection(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "stages.yml")
	if err := os.WriteFile(yamlPath, []byte("web:\n  match: '*'\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadPath(yamlPath)
	if err != nil {
		t.Fatalf("LoadPath() error = %v", err)
	}
	if d.Format != FormatYAML {
		t.Errorf("Format = %s, want yaml", d.Format)
	}
	if d.Source != yamlPath {
		t.Errorf("Source = %s, want %s", d.Source, yamlPath)
	}

	if _, err := LoadPath(filepath.Join(dir, "stages.toml")); err == nil {
		t.Error("LoadPath() accepted an unknown extension")
	}
}

func TestLoadAppConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stagecast.yaml")
	content := []byte(`
environment: staging
inventory: /etc/stagecast/hosts.yaml
store:
  enabled: true
  path: ":memory:"
logging:
  level: debug
  format: json
  output: stderr
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig() error = %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", cfg.Environment)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.SSH.Port != 22 {
		t.Errorf("SSH.Port = %d, want default 22", cfg.SSH.Port)
	}
}

func TestLoadAppConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadAppConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadAppConfig() error = %v", err)
	}
	if cfg.Environment != "base" {
		t.Errorf("Environment = %q, want base", cfg.Environment)
	}
}

func TestLoadAppConfigRejectsBadLogging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stagecast.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAppConfig(path); err == nil {
		t.Fatal("LoadAppConfig() accepted an invalid log level")
	}
}
