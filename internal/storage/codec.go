package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"beyondgd/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeEntity(e model.EntityRecord) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEntity(data []byte) (model.EntityRecord, error) {
	var entity model.EntityRecord
	if err := json.Unmarshal(data, &entity); err != nil {
		return model.EntityRecord{}, err
	}
	if err := checkVersion(entity.VersionedRecord); err != nil {
		return model.EntityRecord{}, err
	}
	for i, t := range entity.Params {
		if t.Rows*t.Cols != len(t.Data) {
			return model.EntityRecord{}, fmt.Errorf("entity %s tensor %d: %dx%d with %d values", entity.ID, i, t.Rows, t.Cols, len(t.Data))
		}
	}
	return entity, nil
}

func EncodePopulation(p model.PopulationSnapshot) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePopulation(data []byte) (model.PopulationSnapshot, error) {
	var snapshot model.PopulationSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.PopulationSnapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.PopulationSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeEpochReports(reports []model.EpochReport) ([]byte, error) {
	return json.Marshal(reports)
}

func DecodeEpochReports(data []byte) ([]model.EpochReport, error) {
	var reports []model.EpochReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
