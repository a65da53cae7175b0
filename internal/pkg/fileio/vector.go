package fileio

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// vectorArity is the number of fields of a Vector on the wire and in output rows
const vectorArity = 11

// Vector is the per-file feature vector extracted from one record.
type Vector struct {
	TotalTime   float64
	Opens       float64
	Reads       float64
	Writes      float64
	Fsyncs      float64
	Stats       float64
	Arch        string
	OSVersion   string
	Disk        string
	Addons      string
	AddonsCount int
}

// TotalOps is the number of file operations of every kind
func (v Vector) TotalOps() float64 {
	return v.Opens + v.Reads + v.Writes + v.Fsyncs + v.Stats
}

// FormatNumber renders f with the fewest digits that read back as f
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Fields returns the vector as output fields in row order
func (v Vector) Fields() []string {
	return []string{
		FormatNumber(v.TotalTime),
		FormatNumber(v.Opens),
		FormatNumber(v.Reads),
		FormatNumber(v.Writes),
		FormatNumber(v.Fsyncs),
		FormatNumber(v.Stats),
		v.Arch,
		v.OSVersion,
		v.Disk,
		v.Addons,
		strconv.Itoa(v.AddonsCount),
	}
}

// MarshalJSON encodes the vector as a flat JSON array
func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		v.TotalTime, v.Opens, v.Reads, v.Writes, v.Fsyncs, v.Stats,
		v.Arch, v.OSVersion, v.Disk, v.Addons, v.AddonsCount,
	})
}

// UnmarshalJSON decodes a flat JSON array of exactly vectorArity members
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != vectorArity {
		return fmt.Errorf("vector has %d fields, want %d: %w", len(raw), vectorArity, ErrArity)
	}

	targets := []interface{}{
		&v.TotalTime, &v.Opens, &v.Reads, &v.Writes, &v.Fsyncs, &v.Stats,
		&v.Arch, &v.OSVersion, &v.Disk, &v.Addons, &v.AddonsCount,
	}
	for i, target := range targets {
		if err := json.Unmarshal(raw[i], target); err != nil {
			return fmt.Errorf("vector field %d: %w", i, err)
		}
	}
	return nil
}

// DecodeVector parses one shuffled vector
func DecodeVector(value string) (Vector, error) {
	var v Vector
	err := json.Unmarshal([]byte(value), &v)
	return v, err
}
