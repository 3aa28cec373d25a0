package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parklens/parklens/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-format", "o", "table", "output format: table, json, yaml, markdown")
	cmd.Flags().String("out", "", "write output to a file instead of stdout")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func openSink(path string) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: os.Stdout, close: func() error { return nil }, path: "-"}, nil
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

// writeOutput sends rendered content to --out, or to the command's stdout.
func writeOutput(cmd *cobra.Command, content string) error {
	path, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	var sink *outputSink
	if strings.TrimSpace(path) == "" || path == "-" {
		sink = &outputSink{writer: cmd.OutOrStdout(), close: func() error { return nil }, path: "-"}
	} else if sink, err = openSink(path); err != nil {
		return err
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if _, err := io.WriteString(sink.writer, content); err != nil {
		_ = sink.close()
		return err
	}
	return sink.close()
}
