package mainthreadio

import (
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig populates viper with defaults, the mainthreadiorc config file
// (if any) and MAINTHREADIO_* environment variables, with dots in keys read as
// underscores (filter.apps is MAINTHREADIO_FILTER_APPS). It is safe to call
// more than once.
func LoadConfig() {
	viper.SetConfigName("mainthreadiorc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.mainthreadio")

	setupDefaults()

	viper.ReadInConfig()

	viper.SetEnvPrefix("mainthreadio")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"strategy":        "representative",
		"selection":       "reference",
		"threshold":       10000, // Group size above which the passthrough strategy emits rows
		"percentile":      90.0,
		"field_separator": ",",
		"key_cache_size":  4096,
		"filter.apps":     []string{},
		"filter.channels": []string{},

		"split_size":        100 * 1024 * 1024, // Default input split size is 100Mb
		"map_bin_size":      512 * 1024 * 1024, // Default map bin size is 512Mb
		"reduce_bin_size":   512 * 1024 * 1024, // Default reduce bin size is 512Mb
		"intermediate_bins": 0,                 // 0 derives the bin count from input size and reduce_bin_size
		"max_concurrency":   500,               // Maximum number of concurrent executors
		"working_location":  ".",
		"cleanup":           true,
		"verbose":           false,
		"metrics_addr":      "",

		"lambda":               false,
		"lambda_function_name": "mainthreadio_function",
		"lambda_package":       "github.com/iotelemetry/mainthreadio/cmd/mainthreadio",
		"lambda_role_arn":      "",
		"lambda_memory":        1500,
		"lambda_timeout":       180,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}

	aliases := map[string]string{
		"v": "verbose",
		"o": "working_location",
	}
	for alias, key := range aliases {
		viper.RegisterAlias(alias, key)
	}
}
