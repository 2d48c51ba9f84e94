package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNatCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"VAR1", "VAR2", -1},
		{"VAR9", "VAR10", -1},
		{"VAR10", "VAR9", 1},
		{"VAR10", "VAR10", 0},
		{"PVAR2", "PVAR12", -1},
		{"VAR", "VAR1", -1},
		{"VAR9", "VAR09", -1}, // same value, fewer leading zeros first
		{"VAR1a", "VAR1b", -1},
		{"abc", "abd", -1},
	}
	for _, tt := range tests {
		if got := natCompare(tt.a, tt.b); got != tt.want {
			t.Errorf("natCompare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// writeSnapshotFiles lays out <source>/data/procN/<name> shards.
func writeSnapshotFiles(t *testing.T, source string, procs int, names ...string) {
	t.Helper()
	for p := 0; p < procs; p++ {
		dir := filepath.Join(source, "data", "proc"+itoa(p))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("shard"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}

func TestDiscoverSnapshotsNaturalOrder(t *testing.T) {
	source := t.TempDir()
	outDir := t.TempDir()
	writeSnapshotFiles(t, source, 1, "VAR2", "VAR10", "VAR1", "PVAR1")

	got, err := discoverSnapshots(source, varPattern, []string{"rho"}, outDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"VAR1", "VAR2", "VAR10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("discoverSnapshots = %v, want %v", got, want)
	}
}

func TestDiscoverSnapshotsSkipsExported(t *testing.T) {
	source := t.TempDir()
	outDir := t.TempDir()
	writeSnapshotFiles(t, source, 1, "VAR1", "VAR2")

	artifact := filepath.Join(outDir, artifactPrefix("rho", "VAR1")+".npy")
	if err := os.WriteFile(artifact, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := discoverSnapshots(source, varPattern, []string{"rho"}, outDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"VAR2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("discoverSnapshots = %v, want %v", got, want)
	}
}

func TestDiscoverSnapshotsRetainsPartialExports(t *testing.T) {
	source := t.TempDir()
	outDir := t.TempDir()
	writeSnapshotFiles(t, source, 1, "VAR1")

	// rho exported, ux not: the snapshot is still needed.
	artifact := filepath.Join(outDir, artifactPrefix("rho", "VAR1")+".npy")
	if err := os.WriteFile(artifact, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := discoverSnapshots(source, varPattern, []string{"rho", "ux"}, outDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "VAR1" {
		t.Errorf("discoverSnapshots = %v, want [VAR1]", got)
	}
}

func TestDiscoverSnapshotsEmptyAfterFullExport(t *testing.T) {
	source := t.TempDir()
	outDir := t.TempDir()
	writeSnapshotFiles(t, source, 1, "VAR1", "VAR2")

	for _, name := range []string{"VAR1", "VAR2"} {
		artifact := filepath.Join(outDir, artifactPrefix("rho", name)+".npy")
		if err := os.WriteFile(artifact, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := discoverSnapshots(source, varPattern, []string{"rho"}, outDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("discoverSnapshots = %v, want []", got)
	}
}

func TestDiscoverSnapshotsBatchCap(t *testing.T) {
	source := t.TempDir()
	outDir := t.TempDir()
	writeSnapshotFiles(t, source, 1, "VAR1", "VAR2", "VAR3", "VAR4", "VAR5")

	got, err := discoverSnapshots(source, varPattern, []string{"rho"}, outDir, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"VAR1", "VAR2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("discoverSnapshots with batch 2 = %v, want %v", got, want)
	}
}

func TestShardDirs(t *testing.T) {
	source := t.TempDir()
	writeSnapshotFiles(t, source, 3, "VAR1")

	dirs, err := shardDirs(source)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 3 {
		t.Fatalf("shardDirs returned %d dirs, want 3", len(dirs))
	}
	for i, dir := range dirs {
		if filepath.Base(dir) != "proc"+itoa(i) {
			t.Errorf("dirs[%d] = %s, want proc%d", i, dir, i)
		}
	}
}
