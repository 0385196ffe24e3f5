package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupUserConfig(t *testing.T) {
	// Create temp directory for test
	tmpDir := t.TempDir()

	// Override config path for testing
	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "ctxsys")
	configPath := filepath.Join(configDir, "config.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath != "" {
			t.Errorf("expected empty backup path for non-existent config, got %s", backupPath)
		}
	})

	t.Run("backup existing config", func(t *testing.T) {
		// Create config directory and file
		if err := os.MkdirAll(configDir, 0755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		testContent := "version: 1\nembeddings:\n  provider: ollama\n"
		if err := os.WriteFile(configPath, []byte(testContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath == "" {
			t.Fatal("expected non-empty backup path")
		}

		// Verify backup exists and has correct content
		backupContent, err := os.ReadFile(backupPath)
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(backupContent) != testContent {
			t.Errorf("backup content mismatch:\ngot: %s\nwant: %s", backupContent, testContent)
		}

		// Verify backup filename format
		if !filepath.IsAbs(backupPath) {
			t.Errorf("backup path should be absolute: %s", backupPath)
		}
	})
}

func TestListUserConfigBackups(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "ctxsys")
	configPath := filepath.Join(configDir, "config.yaml")

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	t.Run("no backups exist", func(t *testing.T) {
		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 0 {
			t.Errorf("expected 0 backups, got %d", len(backups))
		}
	})

	t.Run("list multiple backups", func(t *testing.T) {
		// Create some backup files with different timestamps
		timestamps := []string{"20260101-100000", "20260101-110000", "20260101-120000"}
		for _, ts := range timestamps {
			backupName := filepath.Join(configDir, "config.yaml.bak."+ts)
			if err := os.WriteFile(backupName, []byte("test"), 0644); err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			// Small delay to ensure different mod times
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 3 {
			t.Errorf("expected 3 backups, got %d", len(backups))
		}

		// Verify sorted by mod time (newest first)
		for i := 1; i < len(backups); i++ {
			info1, _ := os.Stat(backups[i-1])
			info2, _ := os.Stat(backups[i])
			if info1.ModTime().Before(info2.ModTime()) {
				t.Errorf("backups not sorted correctly: %s before %s", backups[i-1], backups[i])
			}
		}
	})

	t.Run("cleanup old backups", func(t *testing.T) {
		// Create config file
		if err := os.WriteFile(configPath, []byte("test config"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		// Create 4 more backups (should trigger cleanup)
		for i := 0; i < 4; i++ {
			_, err := BackupUserConfig()
			if err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		// Should have at most MaxBackups
		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) > MaxBackups {
			t.Errorf("expected at most %d backups, got %d", MaxBackups, len(backups))
		}
	})
}

func TestMergeNewDefaults(t *testing.T) {
	t.Run("adds missing retrieval config fields", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Retrieval: RetrievalConfig{
				MinScore: 0.1,
				// DefaultMaxTokens, Strategies, Weights, RRFConstant, ExpandTokens are zero
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Retrieval.DefaultMaxTokens != 4000 {
			t.Errorf("DefaultMaxTokens should be 4000, got %d", cfg.Retrieval.DefaultMaxTokens)
		}
		if cfg.Retrieval.RRFConstant != 60 {
			t.Errorf("RRFConstant should be 60, got %d", cfg.Retrieval.RRFConstant)
		}
		if len(cfg.Retrieval.Strategies) == 0 {
			t.Error("Strategies should be backfilled")
		}

		want := map[string]bool{
			"retrieval.default_max_tokens": false,
			"retrieval.strategies":         false,
			"retrieval.weights":            false,
			"retrieval.rrf_constant":       false,
			"retrieval.expand_tokens":      false,
		}
		for _, field := range added {
			if _, ok := want[field]; ok {
				want[field] = true
			}
		}
		for field, seen := range want {
			if !seen {
				t.Errorf("should report %s as added", field)
			}
		}
	})

	t.Run("adds missing sessions and logging fields", func(t *testing.T) {
		cfg := &Config{Version: 1}

		added := cfg.MergeNewDefaults()

		if cfg.Sessions.Retention == 0 {
			t.Error("Retention should be set to default")
		}
		if cfg.Logging.Level == "" {
			t.Error("Logging.Level should be set to default")
		}

		hasRetention := false
		hasLevel := false
		for _, field := range added {
			if field == "sessions.retention" {
				hasRetention = true
			}
			if field == "logging.level" {
				hasLevel = true
			}
		}
		if !hasRetention {
			t.Error("should report sessions.retention as added")
		}
		if !hasLevel {
			t.Error("should report logging.level as added")
		}
	})

	t.Run("preserves existing values", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Retrieval: RetrievalConfig{
				DefaultMaxTokens: 1000,
				Strategies:       []string{"lex"},
				Weights:          map[string]float64{"lex": 2.0},
				RRFConstant:      80,
				ExpandTokens:     500,
				DecisionStopWords: []string{"the"},
			},
			Sessions: SessionsConfig{Retention: time.Hour},
			Logging:  LoggingConfig{Level: "debug"},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Retrieval.DefaultMaxTokens != 1000 {
			t.Errorf("DefaultMaxTokens changed from 1000 to %d", cfg.Retrieval.DefaultMaxTokens)
		}
		if cfg.Retrieval.RRFConstant != 80 {
			t.Errorf("RRFConstant changed from 80 to %d", cfg.Retrieval.RRFConstant)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Logging.Level changed from debug to %s", cfg.Logging.Level)
		}

		if len(added) != 0 {
			t.Errorf("should not report any field as added, got %v", added)
		}
	})

	t.Run("returns empty for complete config", func(t *testing.T) {
		cfg := NewConfig()

		added := cfg.MergeNewDefaults()

		if len(added) != 0 {
			t.Errorf("expected 0 added fields for complete config, got %v", added)
		}
	})
}

func TestWriteYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			Provider: "ollama",
			Model:    "test-model",
		},
	}

	if err := cfg.WriteYAML(configPath); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}

	// Verify file exists and is readable
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if len(data) == 0 {
		t.Error("written file is empty")
	}

	content := string(data)
	if !contains(content, "provider: ollama") {
		t.Error("written file should contain provider: ollama")
	}
	if !contains(content, "model: test-model") {
		t.Error("written file should contain model: test-model")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
