package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrRunFile = errors.New("invalid run file")

var fileValidate = validator.New()

// RunFile describes one run.
type RunFile struct {
	Pillar           string             `json:"pillar" yaml:"pillar" validate:"required"`
	Controller       string             `json:"controller,omitempty" yaml:"controller"`
	ControllerParams map[string]float64 `json:"controller_params,omitempty" yaml:"controller_params"`
	Seed             *int64             `json:"seed,omitempty" yaml:"seed"`
	// Config overrides pillar defaults by persisted key.
	Config      map[string]float64 `json:"config,omitempty" yaml:"config"`
	Frames      *bool              `json:"frames,omitempty" yaml:"frames"`
	FrameStride int                `json:"frame_stride,omitempty" yaml:"frame_stride" validate:"gte=0"`
}

// BatchFile lists runs executed together.
type BatchFile struct {
	Notes   string    `json:"notes,omitempty" yaml:"notes"`
	Workers int       `json:"workers,omitempty" yaml:"workers" validate:"gte=0"`
	Runs    []RunFile `json:"runs" yaml:"runs" validate:"min=1,dive"`
}

// LoadRunFile reads a single run description.
func LoadRunFile(path string) (RunFile, error) {
	var rf RunFile
	if err := decodeFile(path, &rf); err != nil {
		return RunFile{}, err
	}
	if err := validateFile(path, rf); err != nil {
		return RunFile{}, err
	}
	return rf, nil
}

// LoadBatchFile reads a batch description. A file holding a single run is
// accepted as a batch of one.
func LoadBatchFile(path string) (BatchFile, error) {
	var bf BatchFile
	if err := decodeFile(path, &bf); err != nil {
		return BatchFile{}, err
	}
	if len(bf.Runs) == 0 {
		if rf, err := LoadRunFile(path); err == nil {
			bf.Runs = []RunFile{rf}
		}
	}
	if err := validateFile(path, bf); err != nil {
		return BatchFile{}, err
	}
	return bf, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRunFile, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRunFile, path, err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRunFile, path, err)
	}
	return nil
}

func validateFile(path string, v any) error {
	if err := fileValidate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s: %s", ErrRunFile, path, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %s: %v", ErrRunFile, path, err)
	}
	return nil
}
