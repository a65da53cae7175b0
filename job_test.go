package mainthreadio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitInputRecord(t *testing.T) {
	var splitRecordTests = []struct {
		input         string
		expectedKey   string
		expectedValue string
	}{
		{"foo\tbar", "foo", "bar"},
		{"foo\tbar\tbaz", "foo", "bar\tbaz"},
		{"foo bar baz", "", "foo bar baz"},
		{"key without value\t", "key without value", ""},
		{"\tvalue without key", "", "value without key"},
	}

	for _, test := range splitRecordTests {
		keyVal := splitInputRecord(test.input)
		assert.Equal(t, test.expectedKey, keyVal.Key)
		assert.Equal(t, test.expectedValue, keyVal.Value)
	}
}

func TestMapperID(t *testing.T) {
	assert.Equal(t, 12, mapperID("out/.shuffle-run/map-bin3-12.out"))
	assert.Equal(t, 0, mapperID("map-bin0-0.out"))
	assert.Equal(t, -1, mapperID("output-part-0"))
}

// recordingMapper remembers the keys it was given and emits every
// space-separated word of the value under itself
type recordingMapper struct {
	mut  sync.Mutex
	keys []string
}

func (m *recordingMapper) Map(key, value string, emitter Emitter) error {
	m.mut.Lock()
	m.keys = append(m.keys, key)
	m.mut.Unlock()

	if strings.HasPrefix(value, "bad") {
		return errors.New("bad record")
	}
	if emitter == nil {
		return nil
	}
	for _, word := range strings.Fields(value) {
		if err := emitter.Emit(word, key); err != nil {
			return err
		}
	}
	return nil
}

// joinReducer writes a key's values in arrival order
type joinReducer struct{}

func (joinReducer) Reduce(key string, values ValueIterator, emitter Emitter) error {
	if key == "poison" {
		return errors.New("poisoned key")
	}
	return emitter.Emit(key, strings.Join(values.Collect(), "|"))
}

func newTestJob(bins uint) (*Job, *mockFs) {
	mFs := newMockFs()
	job := NewJob(&recordingMapper{}, joinReducer{})
	job.fileSystem = mFs
	job.runID = "run"
	job.outputPath = "out"
	job.intermediateBins = bins
	return job, mFs
}

func writeInput(mFs *mockFs, name, contents string) inputSplit {
	w, _ := mFs.OpenWriter(name)
	w.Write([]byte(contents))
	return inputSplit{Filename: name, StartOffset: 0, EndOffset: int64(len(contents)) - 1}
}

func outputLines(mFs *mockFs, bins uint) []string {
	lines := make([]string, 0)
	for bin := uint(0); bin < bins; bin++ {
		for _, line := range strings.Split(mFs.contents(fmt.Sprintf("out/output-part-%d", bin)), "\n") {
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	sort.Strings(lines)
	return lines
}

func TestRunMapperReducer(t *testing.T) {
	job, mFs := newTestJob(2)

	first := writeInput(mFs, "in-0", "m0\tx y\nm1\ty\n")
	second := writeInput(mFs, "in-1", "m2\tx z\n")

	require.Nil(t, job.runMapper(0, []inputSplit{first}))
	require.Nil(t, job.runMapper(1, []inputSplit{second}))

	shuffle, err := mFs.ListFiles("out/.shuffle-run/map-bin*")
	require.Nil(t, err)
	assert.NotEmpty(t, shuffle)

	for bin := uint(0); bin < 2; bin++ {
		require.Nil(t, job.runReducer(bin))
	}

	// Values arrive in mapper order
	assert.Equal(t, []string{"x,m0|m2", "y,m0|m1", "z,m2"}, outputLines(mFs, 2))
	assert.True(t, job.bytesRead > 0)
	assert.True(t, job.bytesWritten > 0)
}

func TestRunMapperRecordFailures(t *testing.T) {
	job, mFs := newTestJob(1)

	split := writeInput(mFs, "in", "m0\tx\nm1\tbad\nm2\ty\n")

	err := job.runMapper(0, []inputSplit{split})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "1 records failed")

	// The records around the failing one are still mapped
	require.Nil(t, job.runReducer(0))
	assert.Equal(t, []string{"x,m0", "y,m2"}, outputLines(mFs, 1))
}

func TestRunReducerKeyFailures(t *testing.T) {
	job, mFs := newTestJob(1)

	split := writeInput(mFs, "in", "m0\tpoison ok\nm1\tpoison\n")
	require.Nil(t, job.runMapper(0, []inputSplit{split}))

	err := job.runReducer(0)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "poisoned key")

	assert.Equal(t, []string{"ok,m0"}, outputLines(mFs, 1))
}

func TestRunReducerFieldSeparator(t *testing.T) {
	job, mFs := newTestJob(1)
	job.fieldSeparator = "\t"

	split := writeInput(mFs, "in", "m0\tx\n")
	require.Nil(t, job.runMapper(0, []inputSplit{split}))
	require.Nil(t, job.runReducer(0))

	assert.Equal(t, "x\tm0\n", mFs.contents("out/output-part-0"))
}

func TestJobCleanup(t *testing.T) {
	job, mFs := newTestJob(2)

	split := writeInput(mFs, "in", "m0\tx y z\n")
	require.Nil(t, job.runMapper(0, []inputSplit{split}))
	require.Nil(t, job.cleanup())

	shuffle, err := mFs.ListFiles("out/.shuffle-run/*")
	require.Nil(t, err)
	assert.Empty(t, shuffle)
	assert.NotEmpty(t, mFs.contents("in"))
}

func TestInputSplits(t *testing.T) {
	job, mFs := newTestJob(1)
	writeInput(mFs, "data/a", "0123456789")
	writeInput(mFs, "data/b", "01234")

	splits := job.inputSplits([]string{"data/*", "missing/*"}, 4)
	assert.Len(t, splits, 5)
	assert.Equal(t, "data/a", splits[0].Filename)
	assert.Equal(t, int64(8), splits[2].StartOffset)
	assert.Equal(t, int64(9), splits[2].EndOffset)
	assert.Equal(t, "data/b", splits[3].Filename)
}

func TestRunMapperSkipsOversizedRecord(t *testing.T) {
	defer func(limit int) { maxRecordSize = limit }(maxRecordSize)
	maxRecordSize = 16

	job, mFs := newTestJob(1)
	split := writeInput(mFs, "in", "m0\tx\nm1\t"+strings.Repeat("w ", 20)+"\nm2\ty\nm3\tz\n")

	err := job.runMapper(0, []inputSplit{split})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "1 records failed")

	// Records after the oversized one are still mapped
	require.Nil(t, job.runReducer(0))
	assert.Equal(t, []string{"x,m0", "y,m2", "z,m3"}, outputLines(mFs, 1))
}
