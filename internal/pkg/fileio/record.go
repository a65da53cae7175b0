package fileio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a record lacks a field the job can't do without
	ErrMissingField = errors.New("missing required field")
	// ErrArity is returned when a tuple doesn't have the expected number of members
	ErrArity = errors.New("unexpected number of fields")
)

// reportArity is the length of a fileIOReports tuple:
// total_time, n_open, n_read, n_write, n_fsync, n_stat
const reportArity = 6

// Record is the part of a diagnostic payload the job reads
type Record struct {
	FileIOReports map[string][]float64
	Info          *Info
}

// UnmarshalJSON decodes a payload. A fileIOReports value that is null, false,
// zero or empty counts as absent; any other non-object value is an error.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		FileIOReports json.RawMessage `json:"fileIOReports"`
		Info          *Info           `json:"info"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Info = raw.Info
	r.FileIOReports = nil
	if isEmptyValue(raw.FileIOReports) {
		return nil
	}
	if err := json.Unmarshal(raw.FileIOReports, &r.FileIOReports); err != nil {
		return fmt.Errorf("fileIOReports: %w", err)
	}
	return nil
}

// isEmptyValue reports whether a JSON value is missing, null, false, zero,
// an empty string, an empty array or an empty object
func isEmptyValue(value json.RawMessage) bool {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return true
	}

	switch value[0] {
	case 'n', 'f':
		return string(value) == "null" || string(value) == "false"
	case '"':
		return string(value) == `""`
	case '[':
		var list []json.RawMessage
		return json.Unmarshal(value, &list) == nil && len(list) == 0
	case '{':
		var object map[string]json.RawMessage
		return json.Unmarshal(value, &object) == nil && len(object) == 0
	case 't':
		return false
	default:
		var number float64
		return json.Unmarshal(value, &number) == nil && number == 0
	}
}

// Info describes the client that submitted a record
type Info struct {
	Arch            *string `json:"arch"`
	Version         *string `json:"version"`
	ProfileHDDModel *string `json:"profileHDDModel"`
	Addons          *string `json:"addons"`
}

// ParseRecord decodes a JSON payload
func ParseRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &rec, nil
}

// Dimensions is the sidecar metadata stored alongside each payload
type Dimensions struct {
	Reason           string
	AppName          string
	AppUpdateChannel string
	AppVersion       string
	AppBuildID       string
	SubmissionDate   string
}

// ParseDimensions decodes a JSON array of exactly six strings:
// reason, appName, appUpdateChannel, appVersion, appBuildID, submission_date
func ParseDimensions(data []byte) (Dimensions, error) {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return Dimensions{}, fmt.Errorf("decoding dimensions: %w", err)
	}
	if len(fields) != 6 {
		return Dimensions{}, fmt.Errorf("dimensions have %d fields, want 6: %w", len(fields), ErrArity)
	}
	return Dimensions{
		Reason:           fields[0],
		AppName:          fields[1],
		AppUpdateChannel: fields[2],
		AppVersion:       fields[3],
		AppBuildID:       fields[4],
		SubmissionDate:   fields[5],
	}, nil
}
