package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_DuplicateTargetNames(t *testing.T) {
	p := writeTOML(t, "dup.toml", `
[[target]]
name = "main"
command = "python main.py"
role = "primary"

[[target]]
name = "main"
command = "python other.py"
`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for duplicate target names")
	}
}

func TestLoadConfig_MultiplePrimaries(t *testing.T) {
	p := writeTOML(t, "two-primaries.toml", `
[[target]]
name = "a"
command = "true"
role = "primary"

[[target]]
name = "b"
command = "true"
role = "primary"
`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for two primary targets")
	}
}

func TestLoadConfig_NoPrimaryDeclared(t *testing.T) {
	p := writeTOML(t, "aux-only.toml", `
[[target]]
name = "api-server"
command = "python api_server.py"
`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error when targets exist but none is primary")
	}
}

func TestLoadConfig_UnknownRole(t *testing.T) {
	p := writeTOML(t, "role.toml", `
[[target]]
name = "x"
command = "true"
role = "sidekick"
`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestLoadConfig_InvalidTarget(t *testing.T) {
	p := writeTOML(t, "invalid.toml", `
[[target]]
name = "broken"
role = "primary"
`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for target without command")
	}
}

func TestLoadConfig_BadTOML(t *testing.T) {
	p := writeTOML(t, "bad.toml", `[[target`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	p := writeTOML(t, "envfiles.toml", `
env_files = ["/definitely/not/exist.env"]

[[target]]
name = "main"
command = "true"
role = "primary"
`)
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestLoadEnvFileInvalidPath(t *testing.T) {
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestLoadGlobalEnvBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(p, []byte("env = [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGlobalEnv(p); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}
