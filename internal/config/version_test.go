package config

import "testing"

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	if v != "dev" {
		t.Errorf("expected default version dev, got %s", v)
	}
}

func TestGetFullVersion(t *testing.T) {
	fv := GetFullVersion()
	expected := "dev (build: unknown, commit: unknown)"
	if fv != expected {
		t.Errorf("expected full version %q, got %q", expected, fv)
	}
}

func TestVersionInfo(t *testing.T) {
	info := VersionInfo("chat")
	if info["process"] != "chat" {
		t.Errorf("expected process chat, got %s", info["process"])
	}
	if info["version"] != "dev" || info["build"] != "unknown" || info["git_commit"] != "unknown" {
		t.Errorf("unexpected version info: %v", info)
	}
}
