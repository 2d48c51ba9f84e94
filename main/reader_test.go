package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeStubReader drops an executable shell script named name into dir and
// puts dir at the front of PATH for the rest of the test.
func writeStubReader(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return path
}

func TestExecReaderValidPayload(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	writeStubReader(t, dir, "stub-read-var", fmt.Sprintf(`echo "$@" > %s
cat <<'EOF'
{"fields":{"rho":{"shape":[2],"data":[1.5,2.5]},"t":{"shape":[],"data":[10]}}}
EOF
`, argsFile))

	r, err := newExecReader("stub-read-var")
	if err != nil {
		t.Fatalf("newExecReader: %v", err)
	}
	snap, err := r.Read("/sim/run42", "PVAR3", true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(string(args))
	if want := "--datadir /sim/run42 --varfile PVAR3 --particle"; got != want {
		t.Errorf("reader invoked with %q, want %q", got, want)
	}

	rho, ok := snap.Field("rho")
	if !ok {
		t.Fatal("field rho missing from snapshot")
	}
	if len(rho.Shape) != 1 || rho.Shape[0] != 2 || rho.Data[0] != 1.5 || rho.Data[1] != 2.5 {
		t.Errorf("rho = %+v, want shape [2] data [1.5 2.5]", rho)
	}
	tf, ok := snap.Field("t")
	if !ok || !tf.IsScalar() || tf.Data[0] != 10 {
		t.Errorf("t = %+v, want scalar 10", tf)
	}
	if names := snap.Names(); len(names) != 2 || names[0] != "rho" || names[1] != "t" {
		t.Errorf("Names() = %v, want [rho t]", names)
	}
}

func TestExecReaderOmitsParticleFlag(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	writeStubReader(t, dir, "stub-read-var", fmt.Sprintf(`echo "$@" > %s
echo '{"fields":{}}'
`, argsFile))

	r, err := newExecReader("stub-read-var")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read("/sim/run42", "VAR1", false); err != nil {
		t.Fatalf("Read: %v", err)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(args), "--particle") {
		t.Errorf("field snapshot read passed --particle: %q", strings.TrimSpace(string(args)))
	}
}

func TestExecReaderMalformedPayload(t *testing.T) {
	writeStubReader(t, t.TempDir(), "stub-read-var", "echo 'this is not json'\n")
	r, err := newExecReader("stub-read-var")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read("/sim", "VAR1", false); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestExecReaderNonZeroExit(t *testing.T) {
	writeStubReader(t, t.TempDir(), "stub-read-var", `echo 'cannot open VAR1' >&2
exit 3
`)
	r, err := newExecReader("stub-read-var")
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Read("/sim", "VAR1", false)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "cannot open VAR1") {
		t.Errorf("error does not carry the reader's stderr: %v", err)
	}
}

func TestExecReaderRejectsShapeDataMismatch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty scalar", `{"fields":{"t":{"shape":[],"data":[]}}}`},
		{"missing data", `{"fields":{"t":{"shape":[]}}}`},
		{"short array", `{"fields":{"rho":{"shape":[2,3],"data":[1,2,3]}}}`},
		{"negative dimension", `{"fields":{"rho":{"shape":[-2],"data":[1,2]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeStubReader(t, t.TempDir(), "stub-read-var", "echo '"+tt.payload+"'\n")
			r, err := newExecReader("stub-read-var")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := r.Read("/sim", "VAR1", false); err == nil {
				t.Fatalf("payload %s accepted, want validation error", tt.payload)
			}
		})
	}
}

func TestNewExecReaderMissingCommand(t *testing.T) {
	_, err := newExecReader("definitely-not-installed-read-var")
	if !errors.Is(err, ErrReaderNotFound) {
		t.Fatalf("err = %v, want ErrReaderNotFound", err)
	}
}

func TestNewExecReaderEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeStubReader(t, dir, "custom-reader", "echo '{\"fields\":{}}'\n")
	t.Setenv("SNAPCOLLATE_READER", path)
	r, err := newExecReader("")
	if err != nil {
		t.Fatalf("newExecReader with env override: %v", err)
	}
	if r.command != path {
		t.Errorf("resolved command = %q, want %q", r.command, path)
	}
}
