package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

var errInvalid = errors.New("invalid")

func (s *sample) Validate() error {
	s.valid = true
	if s.Port < 0 {
		return errInvalid
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "zedi")
	cfg := sample{Name: "default", Port: 1}
	if err := Load(writeFile(t, "name: ${SAMPLE_NAME}\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "zedi" || cfg.Port != 1 || !cfg.valid {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ValidationError(t *testing.T) {
	var cfg sample
	err := Load(writeFile(t, "port: -1\n"), &cfg)
	if !errors.Is(err, errInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_ParseError(t *testing.T) {
	var cfg sample
	if err := Load(writeFile(t, "port: [\n"), &cfg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadOptional_MissingFileKeepsDefaults(t *testing.T) {
	cfg := sample{Name: "default"}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" || !cfg.valid {
		t.Errorf("cfg = %+v", cfg)
	}
}
