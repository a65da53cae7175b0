package mainthreadio

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrfs"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrlambda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningInLambda(t *testing.T) {
	res := runningInLambda()
	assert.False(t, res)

	lambdaEnv := []string{"LAMBDA_TASK_ROOT", "AWS_EXECUTION_ENV", "LAMBDA_RUNTIME_DIR"}
	for _, env := range lambdaEnv {
		os.Setenv(env, "value")
	}
	defer func() {
		for _, env := range lambdaEnv {
			os.Unsetenv(env)
		}
	}()

	res = runningInLambda()
	assert.True(t, res)
}

func TestHandleRequest(t *testing.T) {
	testTask := task{
		RunID:            "run",
		Phase:            MapPhase,
		BinID:            0,
		IntermediateBins: 10,
		Splits:           []inputSplit{},
		FileSystemType:   mrfs.Local,
		WorkingLocation:  t.TempDir(),
		FieldSeparator:   ",",
	}

	job := NewJob(&recordingMapper{}, joinReducer{})

	// These values should be reset to 0 by Lambda handler function
	job.bytesRead = 10
	job.bytesWritten = 20

	lambdaDriver = &Driver{job: job}

	output, err := handleRequest(context.Background(), testTask)
	assert.Nil(t, err)
	assert.Equal(t, "{\"BytesRead\":0,\"BytesWritten\":0}", output)
	assert.Equal(t, "run", job.runID)
	assert.Equal(t, uint(10), job.intermediateBins)

	testTask.Phase = ReducePhase
	output, err = handleRequest(context.Background(), testTask)
	assert.Nil(t, err)
	assert.Equal(t, "{\"BytesRead\":0,\"BytesWritten\":0}", output)

	testTask.Phase = Phase(7)
	_, err = handleRequest(context.Background(), testTask)
	assert.NotNil(t, err)
}

type mockLambdaClient struct {
	lambdaiface.LambdaAPI
	capturedPayload []byte
	outputPayload   []byte
	invocations     int
}

func (m *mockLambdaClient) Invoke(input *lambda.InvokeInput) (*lambda.InvokeOutput, error) {
	m.invocations++
	m.capturedPayload = input.Payload
	return &lambda.InvokeOutput{Payload: m.outputPayload}, nil
}

func newMockExecutor(t *testing.T, result taskResult) (*lambdaExecutor, *mockLambdaClient) {
	encoded, err := json.Marshal(result)
	require.Nil(t, err)
	payload, err := json.Marshal(string(encoded))
	require.Nil(t, err)

	mock := &mockLambdaClient{outputPayload: payload}
	executor := &lambdaExecutor{
		&mrlambda.LambdaClient{
			Client: mock,
		},
		&mrlambda.FunctionConfig{Name: "FunctionName"},
	}
	return executor, mock
}

func TestRunLambdaMapper(t *testing.T) {
	executor, mock := newMockExecutor(t, taskResult{BytesRead: 5, BytesWritten: 7})

	job := NewJob(&recordingMapper{}, joinReducer{})
	job.runID = "run"
	job.outputPath = "s3://bucket/out"
	job.intermediateBins = 4
	job.fieldSeparator = "\t"

	splits := []inputSplit{{Filename: "s3://bucket/in", StartOffset: 0, EndOffset: 99}}
	err := executor.RunMapper(job, 10, splits)
	assert.Nil(t, err)

	var taskPayload task
	err = json.Unmarshal(mock.capturedPayload, &taskPayload)
	assert.Nil(t, err)

	assert.Equal(t, uint(10), taskPayload.BinID)
	assert.Equal(t, MapPhase, taskPayload.Phase)
	assert.Equal(t, "run", taskPayload.RunID)
	assert.Equal(t, uint(4), taskPayload.IntermediateBins)
	assert.Equal(t, mrfs.S3, taskPayload.FileSystemType)
	assert.Equal(t, "s3://bucket/out", taskPayload.WorkingLocation)
	assert.Equal(t, "\t", taskPayload.FieldSeparator)
	assert.Equal(t, splits, taskPayload.Splits)

	assert.Equal(t, int64(5), job.bytesRead)
	assert.Equal(t, int64(7), job.bytesWritten)
}

func TestRunLambdaReducer(t *testing.T) {
	executor, mock := newMockExecutor(t, taskResult{BytesRead: 1, BytesWritten: 2})

	job := NewJob(&recordingMapper{}, joinReducer{})
	err := executor.RunReducer(job, 10)
	assert.Nil(t, err)
	err = executor.RunReducer(job, 11)
	assert.Nil(t, err)

	var taskPayload task
	err = json.Unmarshal(mock.capturedPayload, &taskPayload)
	assert.Nil(t, err)

	assert.Equal(t, uint(11), taskPayload.BinID)
	assert.Equal(t, ReducePhase, taskPayload.Phase)
	assert.Equal(t, int64(2), job.bytesRead)
	assert.Equal(t, int64(4), job.bytesWritten)
}

func TestRunLambdaMalformedResult(t *testing.T) {
	mock := &mockLambdaClient{outputPayload: []byte("not json")}
	executor := &lambdaExecutor{
		&mrlambda.LambdaClient{Client: mock},
		&mrlambda.FunctionConfig{Name: "FunctionName"},
	}

	err := executor.RunReducer(NewJob(&recordingMapper{}, joinReducer{}), 0)
	assert.NotNil(t, err)
}

func TestHandleRequestPartialFailure(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.tsv")
	contents := "m0\tx\nm1\tbad\n"
	require.Nil(t, ioutil.WriteFile(input, []byte(contents), 0600))

	testTask := task{
		RunID:            "run",
		Phase:            MapPhase,
		IntermediateBins: 1,
		Splits:           []inputSplit{{Filename: input, StartOffset: 0, EndOffset: int64(len(contents)) - 1}},
		FileSystemType:   mrfs.Local,
		WorkingLocation:  dir,
		FieldSeparator:   ",",
	}
	lambdaDriver = &Driver{job: NewJob(&recordingMapper{}, joinReducer{})}

	// The invocation succeeds and reports the failed record in its result
	output, err := handleRequest(context.Background(), testTask)
	require.Nil(t, err)

	var result taskResult
	require.Nil(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, int64(1), result.Failures)
	assert.Contains(t, result.Error, "1 records failed")
	assert.Equal(t, len(contents), result.BytesRead)
}

func TestRunLambdaReportsFailuresWithoutRetry(t *testing.T) {
	executor, mock := newMockExecutor(t, taskResult{BytesRead: 3, Failures: 2, Error: "reducer 1: 2 keys failed"})

	job := NewJob(&recordingMapper{}, joinReducer{})
	err := executor.RunReducer(job, 1)
	require.NotNil(t, err)
	assert.Equal(t, "reducer 1: 2 keys failed", err.Error())
	assert.Equal(t, 1, mock.invocations)
	assert.Equal(t, int64(3), job.bytesRead)
}
