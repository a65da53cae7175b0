package mainthreadio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/iotelemetry/mainthreadio/internal/pkg/mrfs"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrlambda"
	log "github.com/sirupsen/logrus"
)

var (
	lambdaDriver *Driver
)

// runningInLambda infers if the program is running in AWS lambda via inspection of the environment
func runningInLambda() bool {
	expectedEnvVars := []string{"LAMBDA_TASK_ROOT", "AWS_EXECUTION_ENV", "LAMBDA_RUNTIME_DIR"}
	for _, envVar := range expectedEnvVars {
		if os.Getenv(envVar) == "" {
			return false
		}
	}
	return true
}

func prepareResult(job *Job, partial *partialFailure) (string, error) {
	result := taskResult{
		BytesRead:    int(atomic.LoadInt64(&job.bytesRead)),
		BytesWritten: int(atomic.LoadInt64(&job.bytesWritten)),
	}
	if partial != nil {
		result.Failures = partial.count
		result.Error = partial.Error()
	}

	payload, err := json.Marshal(result)
	return string(payload), err
}

func handleRequest(ctx context.Context, task task) (string, error) {
	fs, err := mrfs.InitFilesystem(task.FileSystemType)
	if err != nil {
		return "", err
	}

	// Each invocation reports its own byte counts
	job := lambdaDriver.job
	job.fileSystem = fs
	job.runID = task.RunID
	job.intermediateBins = task.IntermediateBins
	job.outputPath = task.WorkingLocation
	job.fieldSeparator = task.FieldSeparator
	job.bytesRead = 0
	job.bytesWritten = 0

	switch task.Phase {
	case MapPhase:
		err = job.runMapper(task.BinID, task.Splits)
	case ReducePhase:
		err = job.runReducer(task.BinID)
	default:
		err = fmt.Errorf("unknown phase: %d", task.Phase)
	}

	// A task that ran to completion succeeds as an invocation, so that Lambda
	// doesn't retry deterministic record or key failures
	var partial *partialFailure
	if err != nil && !errors.As(err, &partial) {
		return "", err
	}
	return prepareResult(job, partial)
}

type lambdaExecutor struct {
	*mrlambda.LambdaClient
	function *mrlambda.FunctionConfig
}

func newLambdaExecutor(function *mrlambda.FunctionConfig) *lambdaExecutor {
	return &lambdaExecutor{
		LambdaClient: mrlambda.NewLambdaClient(),
		function:     function,
	}
}

func (l *lambdaExecutor) newTask(job *Job, phase Phase, binID uint) task {
	return task{
		RunID:            job.runID,
		Phase:            phase,
		BinID:            binID,
		IntermediateBins: job.intermediateBins,
		FileSystemType:   mrfs.S3,
		WorkingLocation:  job.outputPath,
		FieldSeparator:   job.fieldSeparator,
	}
}

func (l *lambdaExecutor) invoke(job *Job, t task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}

	resultPayload, err := l.Invoke(l.function.Name, payload)
	if err != nil {
		return err
	}

	// The handler returns the result as a JSON string
	var encoded string
	if err := json.Unmarshal(resultPayload, &encoded); err != nil {
		return err
	}
	var result taskResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return err
	}
	atomic.AddInt64(&job.bytesRead, int64(result.BytesRead))
	atomic.AddInt64(&job.bytesWritten, int64(result.BytesWritten))
	if result.Failures > 0 {
		return errors.New(result.Error)
	}
	return nil
}

func (l *lambdaExecutor) RunMapper(job *Job, binID uint, inputSplits []inputSplit) error {
	mapTask := l.newTask(job, MapPhase, binID)
	mapTask.Splits = inputSplits
	return l.invoke(job, mapTask)
}

func (l *lambdaExecutor) RunReducer(job *Job, binID uint) error {
	return l.invoke(job, l.newTask(job, ReducePhase, binID))
}

func (l *lambdaExecutor) Deploy() error {
	log.Debugf("Deploying job binary as Lambda function '%s'", l.function.Name)
	return l.DeployFunction(l.function)
}
