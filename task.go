package mainthreadio

import "github.com/iotelemetry/mainthreadio/internal/pkg/mrfs"

// Phase is the stage of a job a task belongs to
type Phase int

// Phases of a job
const (
	MapPhase Phase = iota
	ReducePhase
)

// task is the unit of work handed to an executor. It is serialized as the
// Lambda invocation payload.
type task struct {
	RunID            string
	Phase            Phase
	BinID            uint
	IntermediateBins uint
	Splits           []inputSplit
	FileSystemType   mrfs.FileSystemType
	WorkingLocation  string
	FieldSeparator   string
}

// taskResult summarizes the work done by a task. Records or keys the task
// failed to process are reported here rather than as an invocation error.
type taskResult struct {
	BytesRead    int
	BytesWritten int
	Failures     int64  `json:",omitempty"`
	Error        string `json:",omitempty"`
}
