package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// parseTypeFlag maps --type onto a diagram type. "auto" and "" leave
// detection to the oracle.
func parseTypeFlag(s string) (diagram.DiagramType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	}
	t := diagram.ParseDiagramType(s)
	if t == diagram.Unknown {
		return "", fmt.Errorf("unknown diagram type %q (want auto, flowchart, sequence or state)", s)
	}
	return t, nil
}

// encodeResult serializes v by the extension of the target file.
func encodeResult(ext string, v any) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Marshal(v)
	case ".json":
		return json.MarshalIndent(v, "", "  ")
	}
	if res, ok := v.(*diagram.Result); ok {
		return []byte(res.Content + "\n"), nil
	}
	return nil, fmt.Errorf("cannot write %T as %q", v, ext)
}

func writeResult(path string, res *diagram.Result) error {
	data, err := encodeResult(filepath.Ext(path), res)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// batchOutPath names the output file for image inside dir.
func batchOutPath(dir, image string, format diagram.OutputFormat) string {
	base := strings.TrimSuffix(filepath.Base(image), filepath.Ext(image))
	ext := ".mmd"
	if format == diagram.NaturalLanguage {
		ext = ".md"
	}
	return filepath.Join(dir, base+ext)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
