package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"pfsap/internal/model"
)

const (
	CurrentSchemaVersion = model.RecordSchemaVersion
	CurrentCodecVersion  = model.RecordCodecVersion
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrMissingIdentity = errors.New("run summary requires test id and run hash")
)

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	if err := checkIdentity(s); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema %d codec %d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

func checkIdentity(s model.RunSummary) error {
	if s.TestID == "" || s.RunHash == "" {
		return ErrMissingIdentity
	}
	return nil
}
