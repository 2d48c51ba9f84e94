package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// writeNPY writes data as a version 1.0 NPY file with dtype <f8 in C order.
func writeNPY(path string, shape []int, data []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': %s, }", npyShape(shape))
	// Magic (6) + version (2) + header length (2) + header, padded with
	// spaces so the total is a multiple of 64, terminated by newline.
	total := 6 + 2 + 2 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	if _, err := w.WriteString("\x93NUMPY"); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func npyShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// writeScalarTxt writes a single value as a one-row numeric text file.
func writeScalarTxt(path string, value float64) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%.18e\n", value)), 0o644)
}
