package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunCommandWritesResults(t *testing.T) {
	t.Setenv("MIRADOR_BOTNET_CONFIG", "")
	dir := t.TempDir()
	shard := filepath.Join(dir, "shard.csv")
	writeFile(t, shard, "timestamp,src_address,dst_address,protocol,size_bytes,inter_arrival_seconds,label\n"+
		"100,147.32.84.165,147.32.96.69,UDP,1500,1,botnet\n"+
		"101,147.32.84.191,147.32.80.9,TCP,60,2,normal\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "rules:\n  path: \"\"\n  highVolume:\n    enabled: true\n    threshold: 1000\n  repeatedInterval:\n    enabled: true\n    threshold: 0.05\n    mode: at_most\n  frequentRequester:\n    enabled: true\n    threshold: 5\n    bucket: 1s\n")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--config", cfgPath, "--source", shard, "--output-dir", filepath.Join(dir, "results"), "--log-level", "error"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run command returned error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "50.00%") || !strings.Contains(text, "results written to") {
		t.Fatalf("unexpected output:\n%s", text)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "results"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one run directory, got %v (%v)", entries, err)
	}
}

func TestRunCommandRejectsBadMode(t *testing.T) {
	t.Setenv("MIRADOR_BOTNET_CONFIG", "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--source", "x.csv", "--interval-mode", "sometimes", "--log-level", "error"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for unknown interval mode")
	}
}

func TestExtractCommandRequiresCaptures(t *testing.T) {
	t.Setenv("MIRADOR_BOTNET_CONFIG", "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extract", "--log-level", "error"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "no capture files") {
		t.Fatalf("expected missing capture error, got %v", err)
	}
}
