package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

// openSink returns a file writer for path, or fallback for "" and "-".
func openSink(path string, fallback io.Writer) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		if fallback == nil {
			fallback = os.Stdout
		}
		return &outputSink{writer: fallback, close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: trimmed}, nil
}
