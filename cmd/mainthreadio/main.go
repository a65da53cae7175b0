package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/iotelemetry/mainthreadio"
	"github.com/iotelemetry/mainthreadio/internal/pkg/aggregate"
	"github.com/iotelemetry/mainthreadio/internal/pkg/fileio"
	"github.com/iotelemetry/mainthreadio/internal/pkg/mrlambda"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags to the config keys they override
var flagKeys = map[string]string{
	"out":             "working_location",
	"lambda":          "lambda",
	"strategy":        "strategy",
	"selection":       "selection",
	"threshold":       "threshold",
	"percentile":      "percentile",
	"field-separator": "field_separator",
	"apps":            "filter.apps",
	"channels":        "filter.channels",
	"key-cache-size":  "key_cache_size",
	"bins":            "intermediate_bins",
	"concurrency":     "max_concurrency",
	"cleanup":         "cleanup",
	"verbose":         "verbose",
	"metrics-addr":    "metrics_addr",
}

// remoteKeys are the settings a Lambda task needs to map and reduce the
// same way the driver would
var remoteKeys = []string{
	"strategy",
	"selection",
	"threshold",
	"percentile",
	"field_separator",
	"key_cache_size",
	"filter.apps",
	"filter.channels",
}

func jobFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("mainthreadio", pflag.ContinueOnError)
	flags.StringP("out", "o", "", "Output `directory` (can be local or in S3)")
	flags.Bool("lambda", false, "Run the job on AWS Lambda")
	flags.String("strategy", "", "Reduce strategy: representative, passthrough or percentile")
	flags.String("selection", "", "Representative selection: reference, prefix-max or max")
	flags.Int("threshold", 0, "Group size above which the passthrough strategy emits rows")
	flags.Float64("percentile", 0, "Percentile reported by the percentile strategy")
	flags.String("field-separator", "", "Separator between output fields")
	flags.StringSlice("apps", nil, "Only read records from these application names")
	flags.StringSlice("channels", nil, "Only read records from these update channels")
	flags.Int("key-cache-size", 0, "Number of encoded file keys to cache")
	flags.Uint("bins", 0, "Number of shuffle bins (0 derives it from the input size)")
	flags.Int("concurrency", 0, "Maximum number of concurrent map or reduce tasks")
	flags.Bool("cleanup", true, "Delete intermediate data once the job is done")
	flags.BoolP("verbose", "v", false, "Output verbose logs")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this `address`")
	flags.String("memprofile", "", "Write memory profile to `file`")
	return flags
}

func bindFlags(flags *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

// remoteEnvironment exports remoteKeys as MAINTHREADIO_* variables
func remoteEnvironment() map[string]string {
	env := make(map[string]string, len(remoteKeys))
	for _, key := range remoteKeys {
		name := "MAINTHREADIO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if strings.HasPrefix(key, "filter.") {
			env[name] = strings.Join(viper.GetStringSlice(key), " ")
			continue
		}
		env[name] = viper.GetString(key)
	}
	return env
}

func aggregateConfig() aggregate.Config {
	return aggregate.Config{
		Strategy:   viper.GetString("strategy"),
		Selection:  aggregate.Selection(viper.GetString("selection")),
		Threshold:  viper.GetInt("threshold"),
		Percentile: viper.GetFloat64("percentile"),
		Separator:  viper.GetString("field_separator"),
	}
}

func newJob() (*mainthreadio.Job, error) {
	extractor, err := fileio.NewExtractor(viper.GetInt("key_cache_size"), fileio.Filter{
		Apps:     viper.GetStringSlice("filter.apps"),
		Channels: viper.GetStringSlice("filter.channels"),
	})
	if err != nil {
		return nil, err
	}

	aggregator, err := aggregate.New(aggregateConfig())
	if err != nil {
		return nil, err
	}

	return mainthreadio.NewJob(extractor, aggregator), nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server failed: %s", err)
		}
	}()
	log.Infof("Serving metrics on %s/metrics", addr)
}

func writeMemProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()

	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	if addr := viper.GetString("metrics_addr"); addr != "" {
		serveMetrics(addr)
	}

	job, err := newJob()
	if err != nil {
		return err
	}

	options := []mainthreadio.Option{
		mainthreadio.WithInputs(args...),
	}
	if viper.GetBool("lambda") {
		options = append(options, mainthreadio.WithLambda(mrlambda.FunctionConfig{
			Name:        viper.GetString("lambda_function_name"),
			RoleARN:     viper.GetString("lambda_role_arn"),
			Timeout:     viper.GetInt64("lambda_timeout"),
			MemorySize:  viper.GetInt64("lambda_memory"),
			Package:     viper.GetString("lambda_package"),
			Environment: remoteEnvironment(),
		}))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := mainthreadio.NewDriver(job, options...)
	if err := driver.Run(ctx); err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("memprofile"); path != "" {
		writeMemProfile(path)
	}
	return nil
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mainthreadio [flags] <inputs...>",
		Short: "Summarize per-file disk I/O telemetry from client diagnostic records",
		Long: `mainthreadio reads tab separated diagnostic records (document ID,
dimensions, JSON payload), extracts one feature vector per file path from
each record's fileIOReports and reduces the vectors of every path to output
rows with the configured strategy.

Inputs and output may be local paths or s3:// URIs.`,
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().AddFlagSet(jobFlags())
	return cmd
}

func main() {
	mainthreadio.LoadConfig()

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
