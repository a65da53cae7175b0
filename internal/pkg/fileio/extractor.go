package fileio

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/iotelemetry/mainthreadio"
	log "github.com/sirupsen/logrus"
)

// defaultDisk is reported when a record doesn't name the profile's disk model
const defaultDisk = "NA"

// Filter restricts the records the Extractor reads by their dimensions.
// An empty list admits every value.
type Filter struct {
	Apps     []string
	Channels []string
}

func admits(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

// Admits reports whether a record with dimensions d passes the filter
func (f Filter) Admits(d Dimensions) bool {
	return admits(f.Apps, d.AppName) && admits(f.Channels, d.AppUpdateChannel)
}

// Pair is one map output: a grouping key and the vector filed under it
type Pair struct {
	Key    string
	Vector Vector
}

// Extractor is the map side of the job. It turns a record's fileIOReports
// into one (key, Vector) pair per file.
type Extractor struct {
	keys   *KeyEncoder
	filter Filter
}

// NewExtractor creates an Extractor whose key cache holds cacheSize paths
func NewExtractor(cacheSize int, filter Filter) (*Extractor, error) {
	keys, err := NewKeyEncoder(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		keys:   keys,
		filter: filter,
	}, nil
}

// NormalizeAddons replaces the commas of an addon list with semicolons and
// counts the semicolons of the result.
func NormalizeAddons(addons string) (string, int) {
	addons = strings.ReplaceAll(addons, ",", ";")
	return addons, strings.Count(addons, ";")
}

// Extract returns the pairs of one record, ordered by file path. A record
// without fileIOReports yields no pairs. A record missing info.arch or
// info.version, or carrying a malformed tuple, yields an error and no pairs.
func (e *Extractor) Extract(rec *Record) ([]Pair, error) {
	if len(rec.FileIOReports) == 0 {
		return nil, nil
	}

	if rec.Info == nil {
		return nil, fmt.Errorf("info: %w", ErrMissingField)
	}
	if rec.Info.Arch == nil {
		return nil, fmt.Errorf("info.arch: %w", ErrMissingField)
	}
	if rec.Info.Version == nil {
		return nil, fmt.Errorf("info.version: %w", ErrMissingField)
	}

	disk := defaultDisk
	if rec.Info.ProfileHDDModel != nil {
		disk = *rec.Info.ProfileHDDModel
	}
	var addons string
	if rec.Info.Addons != nil {
		addons = *rec.Info.Addons
	}
	addons, addonsCount := NormalizeAddons(addons)

	paths := make([]string, 0, len(rec.FileIOReports))
	for path := range rec.FileIOReports {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	pairs := make([]Pair, 0, len(paths))
	for _, path := range paths {
		report := rec.FileIOReports[path]
		if len(report) != reportArity {
			return nil, fmt.Errorf("fileIOReports[%q] has %d fields, want %d: %w", path, len(report), reportArity, ErrArity)
		}

		key, err := e.keys.Encode(path)
		if err != nil {
			return nil, fmt.Errorf("encoding key for %q: %w", path, err)
		}

		pairs = append(pairs, Pair{
			Key: key,
			Vector: Vector{
				TotalTime:   report[0],
				Opens:       report[1],
				Reads:       report[2],
				Writes:      report[3],
				Fsyncs:      report[4],
				Stats:       report[5],
				Arch:        *rec.Info.Arch,
				OSVersion:   *rec.Info.Version,
				Disk:        disk,
				Addons:      addons,
				AddonsCount: addonsCount,
			},
		})
	}
	return pairs, nil
}

// Map implements mainthreadio.Mapper. value holds the record's dimensions
// and payload, both JSON, separated by a tab.
func (e *Extractor) Map(docID, value string, emitter mainthreadio.Emitter) error {
	parts := strings.SplitN(value, "\t", 2)
	if len(parts) != 2 {
		return fmt.Errorf("record %s: want dimensions and payload: %w", docID, ErrArity)
	}

	dims, err := ParseDimensions([]byte(parts[0]))
	if err != nil {
		return err
	}
	if !e.filter.Admits(dims) {
		recordsSkipped.WithLabelValues("filtered").Inc()
		return nil
	}

	rec, err := ParseRecord([]byte(parts[1]))
	if err != nil {
		return err
	}

	pairs, err := e.Extract(rec)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		recordsSkipped.WithLabelValues("no_reports").Inc()
		log.Debugf("Record %s has no fileIOReports", docID)
		return nil
	}

	for _, pair := range pairs {
		data, err := json.Marshal(pair.Vector)
		if err != nil {
			return err
		}
		if err := emitter.Emit(pair.Key, string(data)); err != nil {
			return err
		}
		vectorsEmitted.Inc()
	}
	return nil
}
