package storage

import (
	"encoding/json"
	"errors"

	"mnemosyne/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeEditRecords(records []model.EditRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeEditRecords(data []byte) ([]model.EditRecord, error) {
	var records []model.EditRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeSessionSummary(s model.SessionSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSessionSummary(data []byte) (model.SessionSummary, error) {
	var summary model.SessionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.SessionSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.SessionSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
