package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadGlobalConfigDefaults(t *testing.T) {
	cfg, err := LoadGlobalConfig("")
	if err != nil {
		t.Fatalf("LoadGlobalConfig failed: %v", err)
	}
	if cfg.Workers < 1 || cfg.StoreDir == "" || cfg.Fetch.Attempts != 4 || cfg.Logging.Level != "info" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadGlobalConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookbook-sync.yml")
	content := `workers: 3
store_dir: /srv/cookbooks
content:
  host: https://pulp.example.com/
  path_prefix: /content/
fetch:
  attempts: 2
  initial_interval: 250ms
  timeout: 90s
logging:
  level: debug
`
	if err := writeTestFile(path, content); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadGlobalConfig(path)
	if err != nil {
		t.Fatalf("LoadGlobalConfig failed: %v", err)
	}
	if cfg.Workers != 3 || cfg.StoreDir != "/srv/cookbooks" {
		t.Errorf("unexpected workers/store_dir %+v", cfg)
	}
	if cfg.Content.Host != "https://pulp.example.com/" || cfg.Content.PathPrefix != "/content/" {
		t.Errorf("unexpected content settings %+v", cfg.Content)
	}
	if cfg.Fetch.Attempts != 2 || cfg.Fetch.InitialInterval.Std() != 250*time.Millisecond || cfg.Fetch.Timeout.Std() != 90*time.Second {
		t.Errorf("unexpected fetch settings %+v", cfg.Fetch)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %q", cfg.Logging.Level)
	}
}

func TestLoadGlobalConfigRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"zero workers", "workers: 0"},
		{"unknown key", "worker: 3"},
		{"bad duration", "fetch:\n  timeout: soon"},
		{"bad level", "logging:\n  level: loud"},
		{"zero attempts", "fetch:\n  attempts: 0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yml")
			if err := writeTestFile(path, tc.content); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadGlobalConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(ConfigEnvVar, "/etc/cookbook-sync/env.yml")
	if got := ResolveConfigPath("/explicit.yml"); got != "/explicit.yml" {
		t.Errorf("expected explicit path to win, got %q", got)
	}
	if got := ResolveConfigPath(""); got != "/etc/cookbook-sync/env.yml" {
		t.Errorf("expected env path, got %q", got)
	}
}

func TestParseRemotes(t *testing.T) {
	data := []byte(`
remotes:
  - name: supermarket
    url: https://supermarket.chef.io/api/v1
    cookbooks:
      ntp: ""
      apache2: 8.14.1
    policy: on_demand
    mirror: true
  - name: internal
    url: file:///srv/mirror
    index_path: universe.gz
    repository: shared
`)
	remotes, err := ParseRemotes(data)
	if err != nil {
		t.Fatalf("ParseRemotes failed: %v", err)
	}
	if len(remotes) != 2 {
		t.Fatalf("expected 2 remotes, got %d", len(remotes))
	}

	s := remotes[0]
	if s.IndexPath != DefaultIndexPath || s.Repository != "supermarket" || !s.Policy.Deferred() || !s.Mirror {
		t.Errorf("unexpected first remote %+v", s)
	}
	if v, ok := s.Cookbooks.Constraint("apache2"); !ok || v != "8.14.1" {
		t.Errorf("expected apache2 8.14.1, got %q", v)
	}

	in := remotes[1]
	if in.Policy != PolicyImmediate || in.Repository != "shared" || !in.Cookbooks.Disabled() {
		t.Errorf("unexpected second remote %+v", in)
	}

	if _, err := FindRemote(remotes, "internal"); err != nil {
		t.Errorf("FindRemote failed: %v", err)
	}
	if _, err := FindRemote(remotes, "missing"); err == nil {
		t.Error("expected unknown remote to fail")
	}
}

func TestParseRemotesRejects(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"blank key", "remotes:\n- name: s\n  url: u\n  cookbooks:\n    '': '1.0'"},
		{"string filter", "remotes:\n- name: s\n  url: u\n  cookbooks: ntp"},
		{"list filter", "remotes:\n- name: s\n  url: u\n  cookbooks: [ntp]"},
		{"duplicate names", "remotes:\n- name: s\n  url: u\n- name: s\n  url: v"},
		{"bad policy", "remotes:\n- name: s\n  url: u\n  policy: lazy"},
		{"bad repository", "remotes:\n- name: s\n  url: u\n  repository: ../x"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRemotes([]byte(tc.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		disabled bool
		all      bool
		wantErr  bool
	}{
		{"absent", ``, true, true, false},
		{"null", `null`, true, true, false},
		{"blank string", `""`, true, true, false},
		{"empty mapping", `{}`, false, true, false},
		{"mapping", `{"ntp": ""}`, false, false, false},
		{"non-blank string", `"ntp"`, false, false, true},
		{"list", `["ntp"]`, false, false, true},
		{"number", `1`, false, false, true},
		{"numeric value", `{"ntp": 1}`, false, false, true},
		{"blank key", `{"": "1.0"}`, false, false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseFilter(json.RawMessage(tc.raw))
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseFilter(%s) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if f.Disabled() != tc.disabled || f.SelectsAll() != tc.all {
				t.Errorf("ParseFilter(%s) = disabled %v all %v", tc.raw, f.Disabled(), f.SelectsAll())
			}
		})
	}
}
