package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CHUNKMERGE_DIR", "")
	t.Setenv("CHUNKMERGE_PATTERN", "")
	t.Setenv("CHUNKMERGE_OUTPUT", "")
	t.Setenv("CHUNKMERGE_JOBS", "")
	t.Setenv("CHUNKMERGE_HISTORY_DB", "")
}

// resetFlags restores every previously-set flag to its default so one test's
// arguments cannot leak into the next Execute call.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().Visit(reset)
	cmd.PersistentFlags().Visit(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI with the given args, pointing --config at a missing
// file so the developer's real config never leaks into tests.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	clearEnv(t)
	resetFlags(rootCmd)
	cfgFile := filepath.Join(t.TempDir(), "absent.yaml")
	rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	return rootCmd.Execute()
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"merge": false, "watch": false, "history": false, "version": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestMerge_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"x":1}`), 0644); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"y":2}`), 0644); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	if err := execute(t, "merge", "--dir", dir); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "merged.json"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "{\"x\":1}\n\n{\"y\":2}\n\n" {
		t.Errorf("unexpected output: %q", data)
	}
}

func TestMerge_MissingDirectoryFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")
	if err := execute(t, "merge", "--dir", missing); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestMerge_RecordsHistory(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(t.TempDir(), "runs.db")
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte("chunk"), 0644); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	if err := execute(t, "merge", "--dir", dir, "--history-db", ledger); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if _, err := os.Stat(ledger); err != nil {
		t.Fatalf("ledger not created: %v", err)
	}

	if err := execute(t, "history", "--history-db", ledger); err != nil {
		t.Errorf("history failed: %v", err)
	}
}

func TestHistory_NoLedgerConfigured(t *testing.T) {
	if err := execute(t, "history"); err == nil {
		t.Error("expected error when no ledger is configured")
	}
}

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)

	if err := execute(t, "version"); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if got := buf.String(); got != "chunkmerge "+version+"\n" {
		t.Errorf("unexpected version output: %q", got)
	}
}
