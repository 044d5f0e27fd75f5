package semantic

import (
	"encoding/json"
	"fmt"
)

// artifactManifest is the dbt manifest artifact shape, where semantic models
// and metrics are keyed by unique id instead of listed.
type artifactManifest struct {
	SemanticModels map[string]SemanticModel `json:"semantic_models"`
	Metrics        map[string]Metric        `json:"metrics"`
}

// ParseArtifactManifest derives a semantic manifest from a dbt manifest
// artifact. Used as the fallback when the semantic manifest file is absent.
func ParseArtifactManifest(raw []byte) (*Manifest, error) {
	artifact := &artifactManifest{}
	if err := json.Unmarshal(raw, artifact); err != nil {
		return nil, fmt.Errorf("failed to decode manifest artifact: %w", err)
	}
	manifest := &Manifest{
		SemanticModels: make([]SemanticModel, 0, len(artifact.SemanticModels)),
		Metrics:        make([]Metric, 0, len(artifact.Metrics)),
	}
	for _, model := range artifact.SemanticModels {
		manifest.SemanticModels = append(manifest.SemanticModels, model)
	}
	for _, metric := range artifact.Metrics {
		manifest.Metrics = append(manifest.Metrics, metric)
	}
	manifest.index()
	return manifest, nil
}
