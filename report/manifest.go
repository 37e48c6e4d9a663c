package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dpa-engine/engine"
)

// ManifestVersion tags the manifest schema.
const ManifestVersion = "dpa-manifest-v1"

// Artifact is one output file and the SHAKE256 digest of its bytes.
type Artifact struct {
	Name     string `json:"name"`
	Bytes    int64  `json:"bytes"`
	SHAKE256 string `json:"shake256"`
}

// Manifest is persisted next to the CSV artifacts of a finalized run.
type Manifest struct {
	Version    string        `json:"version"`
	RunID      string        `json:"run_id"`
	Params     engine.Params `json:"params"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	Traces     int           `json:"traces"`
	Names      Names         `json:"names"`
	Artifacts  []Artifact    `json:"artifacts"`
	Ranking    []Candidate   `json:"ranking,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
}

// Digest returns the recorded digest of the named artifact, or "".
func (m *Manifest) Digest(name string) string {
	for _, a := range m.Artifacts {
		if a.Name == name {
			return a.SHAKE256
		}
	}
	return ""
}

// Save writes m as indented JSON.
func (m *Manifest) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create manifest: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("report: encode manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("report: %s: %w", path, err)
	}
	return &m, nil
}
