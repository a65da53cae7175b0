package mainthreadio

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	humanize "github.com/dustin/go-humanize"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrfs"
	log "github.com/sirupsen/logrus"
)

// inputSplit contains the information about a contiguous chunk of an input file.
// startOffset and endOffset are inclusive. For example, if the startOffset was 10
// and the endOffset was 14, then the inputSplit would describe a 5 byte chunk
// of the file.
//
// A split owns every record that starts within its byte range, so a record
// straddling two splits is mapped once, by the split it starts in.
type inputSplit struct {
	Filename    string // The file that the input split operates on
	StartOffset int64  // The starting byte index of the split in the file
	EndOffset   int64  // The ending byte index (inclusive) of the split in the file
}

// Size returns the number of bytes that the inputSplit spans
func (i inputSplit) Size() int64 {
	return i.EndOffset - i.StartOffset + 1
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func splitInputFile(file mrfs.FileInfo, maxSplitSize int64) []inputSplit {
	splits := make([]inputSplit, 0)

	for startOffset := int64(0); startOffset < file.Size; startOffset += maxSplitSize {
		endOffset := min(startOffset+maxSplitSize-1, file.Size-1)
		newSplit := inputSplit{
			Filename:    file.Name,
			StartOffset: startOffset,
			EndOffset:   endOffset,
		}
		splits = append(splits, newSplit)
	}

	return splits
}

// inputBin is a collection of inputSplits.
type inputBin struct {
	splits []inputSplit
	// The total size of the inputBin. (The sum of the size of all splits)
	size int64
}

// packInputSplits partitions inputSplits into bins.
// The combined size of each bin will be no greater than maxBinSize
func packInputSplits(splits []inputSplit, maxBinSize int64) [][]inputSplit {
	if len(splits) == 0 {
		return [][]inputSplit{}
	}

	bins := make([]*inputBin, 1)
	bins[0] = &inputBin{
		splits: make([]inputSplit, 0),
		size:   0,
	}

	// Partition splits into bins using a naive Next-Fit packing algorithm
	for _, split := range splits {
		currBin := bins[len(bins)-1]

		if currBin.size+split.Size() <= maxBinSize {
			currBin.splits = append(currBin.splits, split)
			currBin.size += split.Size()
		} else {
			newBin := &inputBin{
				splits: []inputSplit{split},
				size:   split.Size(),
			}
			bins = append(bins, newBin)
		}
	}

	binnedSplits := make([][]inputSplit, 0, len(bins))
	totalSize := int64(0)
	for _, bin := range bins {
		if len(bin.splits) == 0 {
			continue
		}
		totalSize += bin.size
		binnedSplits = append(binnedSplits, bin.splits)
	}
	log.Debugf("Average input bin size: %s", humanize.Bytes(uint64(totalSize/int64(len(binnedSplits)))))
	return binnedSplits
}

// errRecordTooLong is reported for an input line longer than maxRecordSize
var errRecordTooLong = errors.New("record too long")

// maxRecordSize bounds the length of a single input line
var maxRecordSize = 64 * 1024 * 1024

// readRecord reads one line from r and returns it without its line ending,
// along with the number of bytes consumed. A line longer than maxSize is
// consumed in full and reported with errRecordTooLong, so the next call
// starts on the following line. At the end of input readRecord returns
// io.EOF and no bytes.
func readRecord(r *bufio.Reader, maxSize int) (record []byte, n int64, err error) {
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		n += int64(len(chunk))
		if !tooLong {
			// Leave room for a trailing "\r\n"
			if len(record)+len(chunk) > maxSize+2 {
				tooLong = true
				record = nil
			} else {
				record = append(record, chunk...)
			}
		}

		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && err != io.EOF {
			return nil, n, err
		}
		if err == io.EOF && n == 0 {
			return nil, 0, io.EOF
		}
		break
	}

	record = bytes.TrimSuffix(record, []byte{'\n'})
	record = bytes.TrimSuffix(record, []byte{'\r'})
	if tooLong || len(record) > maxSize {
		return nil, n, errRecordTooLong
	}
	return record, n, nil
}
