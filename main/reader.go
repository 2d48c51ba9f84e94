package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// ErrReaderNotFound means the external snapshot reader binary is not
// installed; nothing can be exported without it.
var ErrReaderNotFound = errors.New("snapshot reader command not found")

const defaultReaderCommand = "pc-read-var"

// Field is one named quantity extracted from a snapshot. A scalar has an
// empty Shape and exactly one element in Data; arrays carry their full
// C-order shape.
type Field struct {
	Name  string
	Shape []int
	Data  []float64
}

func (f Field) IsScalar() bool {
	return len(f.Shape) == 0
}

// Snapshot holds the fields of one loaded snapshot file.
type Snapshot struct {
	fields map[string]Field
}

func (s *Snapshot) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reader loads a snapshot from the simulation's data directory. The
// particle flag selects the PVAR reading entry point.
type Reader interface {
	Read(dataDir, varfile string, particle bool) (*Snapshot, error)
}

// execReader shells out to the PENCIL reader helper, which prints a JSON
// document of all fields in the snapshot to stdout.
type execReader struct {
	command string
}

// newExecReader resolves the reader command, which may be overridden by the
// SNAPCOLLATE_READER environment variable or a flag.
func newExecReader(command string) (*execReader, error) {
	if command == "" {
		command = os.Getenv("SNAPCOLLATE_READER")
	}
	if command == "" {
		command = defaultReaderCommand
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReaderNotFound, err)
	}
	return &execReader{command: path}, nil
}

type readerPayload struct {
	Fields map[string]struct {
		Shape []int     `json:"shape"`
		Data  []float64 `json:"data"`
	} `json:"fields"`
}

func (r *execReader) Read(dataDir, varfile string, particle bool) (*Snapshot, error) {
	args := []string{"--datadir", dataDir, "--varfile", varfile}
	if particle {
		args = append(args, "--particle")
	}
	cmd := exec.Command(r.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("read %s: %v (stderr: %s)", varfile, err, bytes.TrimSpace(stderr.Bytes()))
	}
	var payload readerPayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("parse reader output for %s: %w", varfile, err)
	}
	fields := make(map[string]Field, len(payload.Fields))
	for name, f := range payload.Fields {
		if err := validateField(name, f.Shape, f.Data); err != nil {
			return nil, fmt.Errorf("reader output for %s: %w", varfile, err)
		}
		fields[name] = Field{Name: name, Shape: f.Shape, Data: f.Data}
	}
	return &Snapshot{fields: fields}, nil
}

// validateField rejects payloads whose data does not match the declared
// shape. A scalar (empty shape) must carry exactly one value; an array must
// carry the product of its dimensions.
func validateField(name string, shape []int, data []float64) error {
	want := 1
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("field %q: negative dimension %d in shape %v", name, d, shape)
		}
		want *= d
	}
	if len(data) != want {
		return fmt.Errorf("field %q: shape %v calls for %d values, got %d", name, shape, want, len(data))
	}
	return nil
}
