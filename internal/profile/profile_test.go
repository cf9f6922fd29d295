// File path: internal/profile/profile_test.go
package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crawlchat/crawlchat/internal/fault"
)

func TestLoadDirMissingDirectoryFallsBackToDefault(t *testing.T) {
	reg, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := reg.Get(DefaultName)
	if err != nil {
		t.Fatalf("default profile missing: %v", err)
	}
	if p.SearchSettings.Limit != 5 || p.SearchSettings.Threshold != 0.5 {
		t.Fatalf("unexpected default settings: %+v", p.SearchSettings)
	}
}

func TestLoadDirParsesProfiles(t *testing.T) {
	dir := t.TempDir()
	data := `name: docs
description: Documentation helper
system_prompt: Answer using the docs.
search_settings:
  sites: ["go docs"]
  threshold: 0.3
  limit: 8
`
	if err := os.WriteFile(filepath.Join(dir, "docs.yaml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := reg.Get("docs")
	if err != nil {
		t.Fatalf("docs profile: %v", err)
	}
	if p.SearchSettings.Limit != 8 || len(p.SearchSettings.Sites) != 1 {
		t.Fatalf("unexpected settings: %+v", p.SearchSettings)
	}
	if !reg.Has(DefaultName) {
		t.Fatal("default profile must always be present")
	}
}

func TestLoadDirRejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	data := `name: broken
search_settings:
  threshold: 1.5
  limit: 5
`
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDir(dir)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !fault.IsValidation(err) {
		t.Fatalf("expected validation kind, got %v", fault.KindOf(err))
	}
}

func TestLoadDirRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "anon.yml"), []byte("description: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDir(dir); !fault.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetUnknownProfileIsNotFound(t *testing.T) {
	reg, _ := NewRegistry()
	if _, err := reg.Get("nonexistent"); !fault.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
