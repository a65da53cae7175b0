package mainthreadio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrfs"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrlambda"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// ErrNoInputs is returned when a job is run without any input files
var ErrNoInputs = errors.New("no inputs")

// Driver controls the execution of a MapReduce Job
type Driver struct {
	job      *Job
	config   *config
	executor executor
}

// config configures a Driver's execution of jobs
type config struct {
	Inputs           []string
	SplitSize        int64
	MapBinSize       int64
	ReduceBinSize    int64
	IntermediateBins uint
	MaxConcurrency   int
	WorkingLocation  string
	FieldSeparator   string
	Cleanup          bool
	Lambda           bool
	Function         mrlambda.FunctionConfig
}

func newConfig() *config {
	LoadConfig() // Load viper config from settings file(s) and environment
	return &config{
		Inputs:           []string{},
		SplitSize:        viper.GetInt64("split_size"),
		MapBinSize:       viper.GetInt64("map_bin_size"),
		ReduceBinSize:    viper.GetInt64("reduce_bin_size"),
		IntermediateBins: viper.GetUint("intermediate_bins"),
		MaxConcurrency:   viper.GetInt("max_concurrency"),
		WorkingLocation:  viper.GetString("working_location"),
		FieldSeparator:   viper.GetString("field_separator"),
		Cleanup:          viper.GetBool("cleanup"),
		Lambda:           viper.GetBool("lambda"),
		Function: mrlambda.FunctionConfig{
			Name:       viper.GetString("lambda_function_name"),
			RoleARN:    viper.GetString("lambda_role_arn"),
			MemorySize: viper.GetInt64("lambda_memory"),
			Timeout:    viper.GetInt64("lambda_timeout"),
			Package:    viper.GetString("lambda_package"),
		},
	}
}

// Option allows configuration of a Driver
type Option func(*config)

// NewDriver creates a new Driver with the provided job and optional configuration
func NewDriver(job *Job, options ...Option) *Driver {
	d := &Driver{
		job:      job,
		executor: localExecutor{},
	}

	c := newConfig()
	for _, f := range options {
		f(c)
	}

	if c.SplitSize > c.MapBinSize {
		log.Warn("Configured Split Size is larger than Map Bin size")
		c.SplitSize = c.MapBinSize
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.FieldSeparator == "" {
		c.FieldSeparator = ","
	}

	d.config = c
	log.Debugf("Loaded config: %#v", c)

	return d
}

// WithSplitSize sets the SplitSize of the Driver
func WithSplitSize(s int64) Option {
	return func(c *config) {
		c.SplitSize = s
	}
}

// WithMapBinSize sets the MapBinSize of the Driver
func WithMapBinSize(s int64) Option {
	return func(c *config) {
		c.MapBinSize = s
	}
}

// WithReduceBinSize sets the ReduceBinSize of the Driver
func WithReduceBinSize(s int64) Option {
	return func(c *config) {
		c.ReduceBinSize = s
	}
}

// WithIntermediateBins fixes the number of shuffle bins (and reduce tasks)
func WithIntermediateBins(n uint) Option {
	return func(c *config) {
		c.IntermediateBins = n
	}
}

// WithMaxConcurrency sets the maximum number of concurrently running executors
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		c.MaxConcurrency = n
	}
}

// WithWorkingLocation sets the location and filesystem backend of the Driver
func WithWorkingLocation(location string) Option {
	return func(c *config) {
		c.WorkingLocation = location
	}
}

// WithFieldSeparator sets the separator written between an output key and its row
func WithFieldSeparator(sep string) Option {
	return func(c *config) {
		c.FieldSeparator = sep
	}
}

// WithCleanup sets whether intermediate bins are deleted after the reduce phase
func WithCleanup(cleanup bool) Option {
	return func(c *config) {
		c.Cleanup = cleanup
	}
}

// WithInputs adds input files to the Driver
func WithInputs(inputs ...string) Option {
	return func(c *config) {
		c.Inputs = append(c.Inputs, inputs...)
	}
}

// WithLambda runs map and reduce tasks as invocations of the named Lambda function
func WithLambda(function mrlambda.FunctionConfig) Option {
	return func(c *config) {
		c.Lambda = true
		c.Function = function
	}
}

// validate rejects sizes that can't partition the input
func (c *config) validate() error {
	if c.SplitSize <= 0 {
		return fmt.Errorf("split size must be positive, got %d", c.SplitSize)
	}
	if c.MapBinSize <= 0 {
		return fmt.Errorf("map bin size must be positive, got %d", c.MapBinSize)
	}
	return nil
}

// numIntermediateBins picks the number of shuffle bins so that each reduce
// task receives roughly ReduceBinSize bytes
func (d *Driver) numIntermediateBins(splits []inputSplit) uint {
	if d.config.IntermediateBins > 0 {
		return d.config.IntermediateBins
	}
	if d.config.ReduceBinSize <= 0 {
		return 1
	}

	var totalSize int64
	for _, split := range splits {
		totalSize += split.Size()
	}
	return uint(totalSize/d.config.ReduceBinSize) + 1
}

func (d *Driver) runMapPhase(ctx context.Context, inputBins [][]inputSplit) error {
	bar := pb.New(len(inputBins)).Prefix("Map").Start()
	defer bar.Finish()

	var wg sync.WaitGroup
	var failures int64
	sem := semaphore.NewWeighted(int64(d.config.MaxConcurrency))
	for binID, bin := range inputBins {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(bID uint, b []inputSplit) {
			defer wg.Done()
			defer sem.Release(1)
			defer bar.Increment()
			err := d.executor.RunMapper(d.job, bID, b)
			observeTask(MapPhase, err)
			if err != nil {
				atomic.AddInt64(&failures, 1)
				log.Errorf("Error when running mapper %d: %s", bID, err)
			}
		}(uint(binID), bin)
	}
	wg.Wait()

	if failures > 0 {
		return fmt.Errorf("%d of %d map tasks failed", failures, len(inputBins))
	}
	return nil
}

func (d *Driver) runReducePhase(ctx context.Context) error {
	bar := pb.New(int(d.job.intermediateBins)).Prefix("Reduce").Start()
	defer bar.Finish()

	var wg sync.WaitGroup
	var failures int64
	sem := semaphore.NewWeighted(int64(d.config.MaxConcurrency))
	for binID := uint(0); binID < d.job.intermediateBins; binID++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(bID uint) {
			defer wg.Done()
			defer sem.Release(1)
			defer bar.Increment()
			err := d.executor.RunReducer(d.job, bID)
			observeTask(ReducePhase, err)
			if err != nil {
				atomic.AddInt64(&failures, 1)
				log.Errorf("Error when running reducer %d: %s", bID, err)
			}
		}(binID)
	}
	wg.Wait()

	if failures > 0 {
		return fmt.Errorf("%d of %d reduce tasks failed", failures, d.job.intermediateBins)
	}
	return nil
}

// prepare points the job at its filesystem and picks the executor
func (d *Driver) prepare() error {
	if len(d.config.Inputs) == 0 {
		return ErrNoInputs
	}

	fsType := mrfs.InferFilesystemType(d.config.WorkingLocation)
	for _, input := range d.config.Inputs {
		if mrfs.InferFilesystemType(input) != fsType {
			return fmt.Errorf("input %s is not on the same filesystem as working location %s", input, d.config.WorkingLocation)
		}
	}
	fs, err := mrfs.InitFilesystem(fsType)
	if err != nil {
		return err
	}

	d.job.fileSystem = fs
	d.job.outputPath = d.config.WorkingLocation
	d.job.fieldSeparator = d.config.FieldSeparator
	d.job.runID = uuid.New().String()

	if d.config.Lambda {
		if fsType != mrfs.S3 {
			return errors.New("lambda execution requires an s3:// working location")
		}
		lExecutor := newLambdaExecutor(&d.config.Function)
		if err := lExecutor.Deploy(); err != nil {
			return err
		}
		d.executor = lExecutor
	}
	return nil
}

// Run executes the job. When the binary is running inside AWS Lambda, Run
// instead serves task invocations and never returns.
func (d *Driver) Run(ctx context.Context) error {
	if runningInLambda() {
		lambdaDriver = d
		lambda.Start(handleRequest)
	}

	if err := d.config.validate(); err != nil {
		return err
	}
	if err := d.prepare(); err != nil {
		return err
	}
	logger := log.WithField("run", d.job.runID)

	start := time.Now()
	inputSplits := d.job.inputSplits(d.config.Inputs, d.config.SplitSize)
	if len(inputSplits) == 0 {
		logger.Warn("No input splits")
		return nil
	}
	logger.Debugf("Number of job input splits: %d", len(inputSplits))

	inputBins := packInputSplits(inputSplits, d.config.MapBinSize)
	logger.Debugf("Number of job input bins: %d", len(inputBins))
	d.job.intermediateBins = d.numIntermediateBins(inputSplits)
	logger.Debugf("Number of intermediate bins: %d", d.job.intermediateBins)

	mapErr := d.runMapPhase(ctx, inputBins)
	if errors.Is(mapErr, context.Canceled) || errors.Is(mapErr, context.DeadlineExceeded) {
		return mapErr
	}
	reduceErr := d.runReducePhase(ctx)

	if d.config.Cleanup {
		if err := d.job.cleanup(); err != nil {
			logger.WithError(err).Warn("Unable to remove intermediate data")
		}
	}

	logger.Infof("Job finished in %s: read %s, wrote %s",
		time.Since(start),
		humanize.Bytes(uint64(atomic.LoadInt64(&d.job.bytesRead))),
		humanize.Bytes(uint64(atomic.LoadInt64(&d.job.bytesWritten))))

	if mapErr != nil {
		return mapErr
	}
	return reduceErr
}
