package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitialize_ProductionModeIsSilent(t *testing.T) {
	tmpDir := t.TempDir()

	if err := Initialize(tmpDir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Compliance("this should go nowhere")

	if _, err := os.Stat(filepath.Join(tmpDir, ".specforge", "logs")); !os.IsNotExist(err) {
		t.Fatal("logs directory should not exist in production mode")
	}
}

func TestInitialize_DebugModeWritesCategoryFiles(t *testing.T) {
	tmpDir := t.TempDir()

	if err := Initialize(tmpDir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	Repair("applied AddConstraint for %s", "Product.price")

	entries, err := os.ReadDir(filepath.Join(tmpDir, ".specforge", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "repair") {
			found = true
		}
	}
	if !found {
		t.Error("expected a repair category log file")
	}
}

func TestIsCategoryEnabled_RespectsFilter(t *testing.T) {
	tmpDir := t.TempDir()

	err := Initialize(tmpDir, Settings{
		DebugMode:  true,
		Categories: map[string]bool{"matcher": false, "repair": true},
		Level:      "info",
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	if IsCategoryEnabled(CategoryMatcher) {
		t.Error("matcher category should be disabled")
	}
	if !IsCategoryEnabled(CategoryRepair) {
		t.Error("repair category should be enabled")
	}
	// Unlisted categories default to enabled
	if !IsCategoryEnabled(CategoryCompliance) {
		t.Error("unlisted category should default to enabled")
	}
}
