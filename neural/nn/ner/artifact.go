package ner

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"

	. "github.com/golangast/nercnn/neural/tensor"
)

// FormatVersion is written into every architecture file. Files with another major
// version are rejected by Load.
const FormatVersion = "v1.0.0"

const className = "ConvTagger"

// ArtifactError reports a missing or unusable architecture or weight file.
type ArtifactError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model artifact %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("model artifact %s: %s", e.Path, e.Reason)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// Architecture is the JSON document describing a saved model.
type Architecture struct {
	FormatVersion string      `json:"format_version"`
	ClassName     string      `json:"class_name"`
	Config        Config      `json:"config"`
	Layers        []LayerSpec `json:"layers"`
}

// LayerSpec names one weight tensor and its shape.
type LayerSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

type namedTensor struct {
	Name   string
	Tensor *Tensor
}

func (m *Model) namedParameters() []namedTensor {
	return []namedTensor{
		{"word_conv/kernel", m.wordConv.Weights},
		{"word_conv/bias", m.wordConv.Biases},
		{"hc_conv/kernel", m.hcConv.Weights},
		{"hc_conv/bias", m.hcConv.Biases},
		{"dense/kernel", m.dense.Weights},
		{"dense/bias", m.dense.Biases},
	}
}

// Architecture describes the model as it would be saved.
func (m *Model) Architecture() Architecture {
	arch := Architecture{FormatVersion: FormatVersion, ClassName: className, Config: m.cfg}
	for _, p := range m.namedParameters() {
		arch.Layers = append(arch.Layers, LayerSpec{Name: p.Name, Shape: append([]int(nil), p.Tensor.Shape...)})
	}
	return arch
}

// Save writes the architecture as JSON to archPath and the weights as gob to
// weightPath. Either path may be empty to skip that artifact.
func (m *Model) Save(archPath, weightPath string) error {
	if archPath != "" {
		data, err := json.MarshalIndent(m.Architecture(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode architecture: %w", err)
		}
		if err := writeFileAtomic(archPath, append(data, '\n')); err != nil {
			return err
		}
	}
	if weightPath != "" {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(m.namedParameters()); err != nil {
			return fmt.Errorf("failed to encode weights: %w", err)
		}
		if err := writeFileAtomic(weightPath, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// CheckArtifacts verifies that both files exist and are regular files.
func CheckArtifacts(archPath, weightPath string) error {
	for _, p := range []string{archPath, weightPath} {
		if p == "" {
			return &ArtifactError{Path: p, Reason: "no path given"}
		}
		info, err := os.Stat(p)
		if err != nil {
			return &ArtifactError{Path: p, Reason: "cannot access file", Err: err}
		}
		if info.IsDir() {
			return &ArtifactError{Path: p, Reason: "is a directory"}
		}
	}
	return nil
}

// ReadArchitecture parses and version-checks an architecture file.
func ReadArchitecture(path string) (*Architecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactError{Path: path, Reason: "cannot read architecture", Err: err}
	}
	var arch Architecture
	if err := json.Unmarshal(data, &arch); err != nil {
		return nil, &ArtifactError{Path: path, Reason: "malformed architecture", Err: err}
	}
	if !semver.IsValid(arch.FormatVersion) {
		return nil, &ArtifactError{Path: path, Reason: fmt.Sprintf("invalid format version %q", arch.FormatVersion)}
	}
	if semver.Major(arch.FormatVersion) != semver.Major(FormatVersion) {
		return nil, &ArtifactError{Path: path, Reason: fmt.Sprintf("format version %s is not compatible with %s", arch.FormatVersion, FormatVersion)}
	}
	if arch.ClassName != className {
		return nil, &ArtifactError{Path: path, Reason: fmt.Sprintf("unknown model class %q", arch.ClassName)}
	}
	return &arch, nil
}

// Load rebuilds a model from its architecture and weights and compiles it with
// loss. An empty loss keeps the loss recorded in the architecture.
func Load(archPath, weightPath, loss string) (*Model, error) {
	if err := CheckArtifacts(archPath, weightPath); err != nil {
		return nil, err
	}
	arch, err := ReadArchitecture(archPath)
	if err != nil {
		return nil, err
	}
	m, err := Construct(arch.Config)
	if err != nil {
		return nil, &ArtifactError{Path: archPath, Reason: "invalid configuration", Err: err}
	}

	f, err := os.Open(weightPath)
	if err != nil {
		return nil, &ArtifactError{Path: weightPath, Reason: "cannot open weights", Err: err}
	}
	defer f.Close()
	var stored []namedTensor
	if err := gob.NewDecoder(f).Decode(&stored); err != nil {
		return nil, &ArtifactError{Path: weightPath, Reason: "malformed weights", Err: err}
	}
	if err := m.assign(stored); err != nil {
		return nil, &ArtifactError{Path: weightPath, Reason: "weights do not match architecture", Err: err}
	}

	if loss == "" {
		loss = arch.Config.Loss
	}
	if err := m.Compile(loss, arch.Config.Optimizer); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) assign(stored []namedTensor) error {
	params := m.namedParameters()
	if len(stored) != len(params) {
		return fmt.Errorf("got %d tensors, want %d", len(stored), len(params))
	}
	for i, p := range params {
		s := stored[i]
		if s.Name != p.Name {
			return fmt.Errorf("tensor %d is %q, want %q", i, s.Name, p.Name)
		}
		if s.Tensor == nil || !SameShape(s.Tensor, p.Tensor) {
			var shape []int
			if s.Tensor != nil {
				shape = s.Tensor.Shape
			}
			return fmt.Errorf("%s has shape %v, want %v", p.Name, shape, p.Tensor.Shape)
		}
	}
	for i, p := range params {
		copy(p.Tensor.Data, stored[i].Tensor.Data)
	}
	return nil
}

// IsArtifactError reports whether err was caused by a missing or unusable artifact.
func IsArtifactError(err error) bool {
	var ae *ArtifactError
	return errors.As(err, &ae)
}
