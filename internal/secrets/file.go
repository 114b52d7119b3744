package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileProvider reads secrets from a flat JSON object on disk. It is meant
// for local development; the file should be mode 0600.
type FileProvider struct {
	path string
	data map[string]string
}

// NewFileProvider loads path. A missing file yields an empty provider.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path, data: map[string]string{}}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	v, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, key, p.path)
	}
	return v, nil
}
