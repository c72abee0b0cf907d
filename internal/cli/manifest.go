package cli

import (
	"fmt"
	"os"

	"github.com/kursadbilgin/batch-engine/internal/client"
	"github.com/kursadbilgin/batch-engine/internal/service"
	"gopkg.in/yaml.v3"
)

// manifest is the on-disk batch description read by `batchctl create`.
// JSON files parse as well since JSON is valid YAML.
type manifest struct {
	CallbackURL             string              `yaml:"callbackUrl"`
	MaxConcurrentOperations int                 `yaml:"maxConcurrentOperations"`
	Operations              []manifestOperation `yaml:"operations"`
}

type manifestOperation struct {
	Type       string         `yaml:"type"`
	ItemRef    string         `yaml:"itemRef"`
	Parameters map[string]any `yaml:"parameters"`
	MaxRetries *int           `yaml:"maxRetries"`
}

func loadManifest(path string) (*manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest(raw)
}

func parseManifest(raw []byte) (*manifest, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Operations) == 0 {
		return nil, fmt.Errorf("manifest has no operations")
	}
	return &m, nil
}

func (m *manifest) request() client.CreateBatchRequest {
	req := client.CreateBatchRequest{
		CallbackURL:             m.CallbackURL,
		MaxConcurrentOperations: m.MaxConcurrentOperations,
		Operations:              make([]service.OperationRequest, 0, len(m.Operations)),
	}
	for _, op := range m.Operations {
		req.Operations = append(req.Operations, service.OperationRequest{
			Type:       op.Type,
			ItemRef:    op.ItemRef,
			Parameters: op.Parameters,
			MaxRetries: op.MaxRetries,
		})
	}
	return req
}
