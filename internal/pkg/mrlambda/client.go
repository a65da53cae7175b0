package mrlambda

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// MaxLambdaRetries is the number of times an invocation that reports a
// function error is attempted before giving up
const MaxLambdaRetries = 3

// bootstrapName is the executable name the provided.al2 runtime looks for
const bootstrapName = "bootstrap"

// LambdaClient wraps the AWS Lambda API
type LambdaClient struct {
	Client lambdaiface.LambdaAPI
}

// FunctionConfig describes the Lambda function the job binary is deployed as
type FunctionConfig struct {
	Name       string
	RoleARN    string
	Timeout    int64
	MemorySize int64
	// Package is the main package compiled into the function's binary.
	// It defaults to the package in the working directory.
	Package string
	// Environment is set on the function so that tasks running remotely see
	// the same settings as the driver
	Environment map[string]string
}

// NewLambdaClient initializes a new LambdaClient from the shared AWS config
func NewLambdaClient() *LambdaClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &LambdaClient{
		Client: lambda.New(sess),
	}
}

func functionNeedsUpdate(functionCode []byte, cfg *lambda.FunctionConfiguration) bool {
	codeHash := sha256.New()
	codeHash.Write(functionCode)
	codeHashDigest := base64.StdEncoding.EncodeToString(codeHash.Sum(nil))
	return codeHashDigest != aws.StringValue(cfg.CodeSha256)
}

// DeployFunction builds the current module for Linux and creates or updates
// the Lambda function described by function
func (l *LambdaClient) DeployFunction(function *FunctionConfig) error {
	functionCode, err := buildPackage(function.Package)
	if err != nil {
		return err
	}
	return l.deployCode(function, functionCode)
}

func (l *LambdaClient) deployCode(function *FunctionConfig, functionCode []byte) error {
	exists, err := l.getFunction(function.Name)
	if exists != nil && err == nil {
		if functionNeedsUpdate(functionCode, exists.Configuration) {
			log.Debugf("Updating Lambda function '%s'", function.Name)
			return l.updateFunction(function, functionCode)
		}
		log.Debugf("Function '%s' code is already up-to-date", function.Name)
		return l.updateConfiguration(function)
	}

	log.Debugf("Creating Lambda function '%s' (%s)", function.Name, humanize.Bytes(uint64(len(functionCode))))
	return l.createFunction(function, functionCode)
}

// DeleteFunction deletes the named Lambda function
func (l *LambdaClient) DeleteFunction(functionName string) error {
	deleteInput := &lambda.DeleteFunctionInput{
		FunctionName: aws.String(functionName),
	}

	_, err := l.Client.DeleteFunction(deleteInput)
	return err
}

func crossCompile(binName, pkg string) (string, error) {
	if pkg == "" {
		pkg = "."
	}

	tmpDir, err := ioutil.TempDir("", "")
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(tmpDir, binName)

	args := []string{
		"build",
		"-o", outputPath,
		"-ldflags", "-s -w",
		pkg,
	}
	cmd := exec.Command("go", args...)

	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")

	combinedOut, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s\n%s", err, combinedOut)
	}

	return outputPath, nil
}

func buildPackage(pkg string) ([]byte, error) {
	log.Debugf("Compiling %s for Lambda", pkg)
	binFile, err := crossCompile(bootstrapName, pkg)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(binFile))

	binReader, err := os.Open(binFile)
	if err != nil {
		return nil, err
	}
	defer binReader.Close()

	return zipBinary(binReader)
}

// zipBinary packages an executable as the single bootstrap entry of a zip archive
func zipBinary(binReader io.Reader) ([]byte, error) {
	zipBuf := new(bytes.Buffer)
	archive := zip.NewWriter(zipBuf)
	header := &zip.FileHeader{
		Name:           bootstrapName,
		Method:         zip.Deflate,
		ExternalAttrs:  (0777 << 16), // File permissions
		CreatorVersion: (3 << 8),     // Magic number indicating a Unix creator
	}

	writer, err := archive.CreateHeader(header)
	if err != nil {
		return nil, err
	}

	if _, err = io.Copy(writer, binReader); err != nil {
		return nil, err
	}

	if err = archive.Close(); err != nil {
		return nil, err
	}

	return zipBuf.Bytes(), nil
}

func (l *LambdaClient) updateFunction(function *FunctionConfig, code []byte) error {
	updateArgs := &lambda.UpdateFunctionCodeInput{
		ZipFile:      code,
		FunctionName: aws.String(function.Name),
	}

	if _, err := l.Client.UpdateFunctionCode(updateArgs); err != nil {
		return err
	}
	return l.updateConfiguration(function)
}

func (l *LambdaClient) updateConfiguration(function *FunctionConfig) error {
	updateConfigArgs := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(function.Name),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
		Environment:  environment(function.Environment),
	}
	_, err := l.Client.UpdateFunctionConfiguration(updateConfigArgs)
	return err
}

func environment(vars map[string]string) *lambda.Environment {
	if len(vars) == 0 {
		return nil
	}
	return &lambda.Environment{Variables: aws.StringMap(vars)}
}

func (l *LambdaClient) createFunction(function *FunctionConfig, code []byte) error {
	createArgs := &lambda.CreateFunctionInput{
		Code: &lambda.FunctionCode{
			ZipFile: code,
		},
		FunctionName: aws.String(function.Name),
		Handler:      aws.String(bootstrapName),
		Runtime:      aws.String("provided.al2"),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
		Environment:  environment(function.Environment),
	}

	_, err := l.Client.CreateFunction(createArgs)
	return err
}

func (l *LambdaClient) getFunction(functionName string) (*lambda.GetFunctionOutput, error) {
	getInput := &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}

	return l.Client.GetFunction(getInput)
}

// Invoke synchronously invokes functionName with payload, retrying
// invocations that report a function error
func (l *LambdaClient) Invoke(functionName string, payload []byte) (outputPayload []byte, err error) {
	invokeInput := &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	}

	for try := 0; try < MaxLambdaRetries; try++ {
		output, err := l.Client.Invoke(invokeInput)
		if err != nil {
			return nil, err
		}
		if output.FunctionError == nil {
			return output.Payload, nil
		}
		log.Warnf("Function error on attempt %d of %s: %s", try+1, functionName, output.Payload)
	}

	return nil, fmt.Errorf("function %s failed after %d attempts", functionName, MaxLambdaRetries)
}
