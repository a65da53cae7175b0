package mainthreadio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/iotelemetry/mainthreadio/internal/pkg/mrfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// partialFailure is returned by a task that ran to completion but failed to
// process some of its records or keys
type partialFailure struct {
	task  string
	units string
	count int64
	first error
}

func (p *partialFailure) Error() string {
	msg := fmt.Sprintf("%s: %d %s failed", p.task, p.count, p.units)
	if p.first != nil {
		msg += ", first: " + p.first.Error()
	}
	return msg
}

func (p *partialFailure) Unwrap() error {
	return p.first
}

// Job is the logical container for a MapReduce job
type Job struct {
	Map    Mapper
	Reduce Reducer

	fileSystem       mrfs.FileSystem
	runID            string
	intermediateBins uint
	outputPath       string
	fieldSeparator   string

	bytesRead    int64
	bytesWritten int64
}

// NewJob creates a new job from a Mapper and Reducer.
func NewJob(mapper Mapper, reducer Reducer) *Job {
	return &Job{
		Map:            mapper,
		Reduce:         reducer,
		fieldSeparator: ",",
	}
}

// shuffleDir is the folder holding this run's intermediate bins
func (j *Job) shuffleDir() string {
	return j.fileSystem.Join(j.outputPath, ".shuffle-"+j.runID)
}

// splitInputRecord splits an input line into its document ID and the rest
// of the record. Lines without a tab have an empty key.
func splitInputRecord(record string) *keyValue {
	parts := strings.SplitN(record, "\t", 2)
	if len(parts) < 2 {
		return &keyValue{Value: record}
	}
	return &keyValue{
		Key:   parts[0],
		Value: parts[1],
	}
}

// runMapper runs the mapper over every record of splits. A record that fails
// to map is logged and skipped; runMapper reports the number of failed
// records once all splits are done.
func (j *Job) runMapper(mapperID uint, splits []inputSplit) error {
	emitter := newMapperEmitter(j.intermediateBins, mapperID, j.shuffleDir(), j.fileSystem)

	failures := 0
	for _, split := range splits {
		n, err := j.mapSplit(split, &emitter)
		failures += n
		if err != nil {
			emitter.close()
			return err
		}
	}

	atomic.AddInt64(&j.bytesWritten, emitter.bytesWritten())
	if err := emitter.close(); err != nil {
		return err
	}

	if failures > 0 {
		return &partialFailure{
			task:  fmt.Sprintf("mapper %d", mapperID),
			units: "records",
			count: int64(failures),
		}
	}
	return nil
}

func (j *Job) mapSplit(split inputSplit, emitter Emitter) (failures int, err error) {
	inputSource, err := j.fileSystem.OpenReader(split.Filename, split.StartOffset)
	if err != nil {
		return 0, err
	}
	defer inputSource.Close()

	var bytesRead int64
	defer func() { atomic.AddInt64(&j.bytesRead, bytesRead) }()
	reader := bufio.NewReaderSize(inputSource, 64*1024)

	// The record that contains StartOffset belongs to the previous split
	if split.StartOffset != 0 {
		_, n, err := readRecord(reader, maxRecordSize)
		bytesRead += n
		if err != nil && err != io.EOF && err != errRecordTooLong {
			return 0, err
		}
	}

	for bytesRead <= split.Size() {
		offset := split.StartOffset + bytesRead
		line, n, err := readRecord(reader, maxRecordSize)
		bytesRead += n
		if err == io.EOF {
			break
		}
		if err == errRecordTooLong {
			recordsRead.Inc()
			recordFailures.Inc()
			failures++
			log.WithFields(log.Fields{
				"run":    j.runID,
				"file":   split.Filename,
				"offset": offset,
				"bytes":  n,
			}).WithError(err).Error("Skipping oversized record")
			continue
		}
		if err != nil {
			return failures, err
		}

		record := string(line)
		if record == "" {
			continue
		}
		recordsRead.Inc()

		kv := splitInputRecord(record)
		if err := j.Map.Map(kv.Key, kv.Value, emitter); err != nil {
			recordFailures.Inc()
			failures++
			log.WithFields(log.Fields{
				"run":    j.runID,
				"file":   split.Filename,
				"record": kv.Key,
			}).WithError(err).Error("Failed to map record")
		}
	}

	return failures, nil
}

// mapperID extracts the mapper number from an intermediate file name
func mapperID(fileName string) int {
	var bin, mapper int
	if _, err := fmt.Sscanf(path.Base(fileName), "map-bin%d-%d.out", &bin, &mapper); err != nil {
		return -1
	}
	return mapper
}

// runReducer reduces every key of the shuffle bin binID. Values reach each
// key's Reducer in mapper order and, within one mapper, in emission order.
func (j *Job) runReducer(binID uint) error {
	pattern := j.fileSystem.Join(j.shuffleDir(), fmt.Sprintf("map-bin%d-*", binID))
	intermediateFiles, err := j.fileSystem.ListFiles(pattern)
	if err != nil {
		return err
	}
	sort.Slice(intermediateFiles, func(a, b int) bool {
		return mapperID(intermediateFiles[a].Name) < mapperID(intermediateFiles[b].Name)
	})

	// Open emitter for output data
	emitWriter, err := j.fileSystem.OpenWriter(j.fileSystem.Join(j.outputPath, fmt.Sprintf("output-part-%d", binID)))
	if err != nil {
		return err
	}
	emitter := newReducerEmitter(emitWriter, j.fieldSeparator)

	keyChannels := make(map[string](chan string))
	var group errgroup.Group
	var failures int64

	feedErr := func() error {
		for _, file := range intermediateFiles {
			if err := j.feedReducers(file, binID, keyChannels, &group, emitter, &failures); err != nil {
				return err
			}
		}
		return nil
	}()

	// Close key channels to signal that all intermediate data has been read
	for _, keyChan := range keyChannels {
		close(keyChan)
	}
	reduceErr := group.Wait()

	atomic.AddInt64(&j.bytesWritten, emitter.bytesWritten())
	closeErr := emitter.close()

	if feedErr != nil {
		return feedErr
	}
	if reduceErr != nil {
		return &partialFailure{
			task:  fmt.Sprintf("reducer %d", binID),
			units: "keys",
			count: atomic.LoadInt64(&failures),
			first: reduceErr,
		}
	}
	return closeErr
}

// feedReducers streams one intermediate file into the per-key reducers,
// starting a reducer the first time a key is seen
func (j *Job) feedReducers(file mrfs.FileInfo, binID uint, keyChannels map[string](chan string), group *errgroup.Group, emitter Emitter, failures *int64) error {
	reader, err := j.fileSystem.OpenReader(file.Name, 0)
	if err != nil {
		return err
	}
	defer reader.Close()
	log.Debugf("Reducing on intermediate file: %s", file.Name)
	atomic.AddInt64(&j.bytesRead, file.Size)

	decoder := json.NewDecoder(reader)
	for decoder.More() {
		var kv keyValue
		if err := decoder.Decode(&kv); err != nil {
			return err
		}

		keyChan, exists := keyChannels[kv.Key]
		if !exists {
			keyChan = make(chan string)
			keyChannels[kv.Key] = keyChan
			keysReduced.Inc()

			key, iter := kv.Key, NewValueIterator(keyChan)
			group.Go(func() error {
				err := j.Reduce.Reduce(key, iter, emitter)
				// Drain values left behind by a reducer that returned early
				for range iter.Iter() {
				}
				if err != nil {
					keyFailures.Inc()
					atomic.AddInt64(failures, 1)
					log.WithFields(log.Fields{
						"run": j.runID,
						"bin": binID,
						"key": key,
					}).WithError(err).Error("Failed to reduce key")
					return fmt.Errorf("key %s: %w", key, err)
				}
				return nil
			})
		}

		keyChan <- kv.Value
	}
	return nil
}

// inputSplits lists the splits of every input file, skipping inputs that can't be listed
func (j *Job) inputSplits(inputs []string, maxSplitSize int64) []inputSplit {
	files := make([]string, 0)
	for _, inputPath := range inputs {
		fileInfos, err := j.fileSystem.ListFiles(inputPath)
		if err != nil {
			log.Warnf("Unable to load input file: %s (%s)", inputPath, err)
			continue
		}

		for _, fInfo := range fileInfos {
			files = append(files, fInfo.Name)
		}
	}

	splits := make([]inputSplit, 0)
	for _, inputFileName := range files {
		fInfo, err := j.fileSystem.Stat(inputFileName)
		if err != nil {
			log.Warnf("Unable to load input file: %s (%s)", inputFileName, err)
			continue
		}

		splits = append(splits, splitInputFile(fInfo, maxSplitSize)...)
	}
	return splits
}

// cleanup deletes this run's intermediate bins
func (j *Job) cleanup() error {
	files, err := j.fileSystem.ListFiles(j.fileSystem.Join(j.shuffleDir(), "map-bin*"))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(files))
	for _, file := range files {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := j.fileSystem.Delete(name); err != nil {
				errs <- err
			}
		}(file.Name)
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return err
	}

	return j.fileSystem.Delete(j.shuffleDir())
}
