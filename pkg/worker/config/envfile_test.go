package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEnvFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := ApplyEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("ApplyEnvFile missing file error: %v", err)
	}
}

func TestApplyEnvFile_EnvironmentWins(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# worker credentials\n" +
		"FROM_FILE=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='one two'\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n" +
		"not-a-pair\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := ApplyEnvFile(envPath); err != nil {
		t.Fatalf("ApplyEnvFile error: %v", err)
	}

	for _, tc := range []struct {
		key, want string
	}{
		{"FROM_FILE", "loaded"},
		{"QUOTED", "hello world"},
		{"SINGLE", "one two"},
		{"EXPORTED", "ok"},
		{"EXISTING", "already_set"},
	} {
		if got := os.Getenv(tc.key); got != tc.want {
			t.Errorf("%s=%q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestParseEnvLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line     string
		key, val string
		ok       bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = value ", "KEY", "value", true},
		{"export KEY=value", "KEY", "value", true},
		{"KEY=", "KEY", "", true},
		{`KEY="a=b"`, "KEY", "a=b", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=value", "", "", false},
		{"bare", "", "", false},
	}
	for _, tc := range tests {
		key, val, ok := parseEnvLine(tc.line)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseEnvLine(%q) = %q, %q, %v; want %q, %q, %v",
				tc.line, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
