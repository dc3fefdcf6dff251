package main

// this file contains the code of package main that directly uses the viper package
import (
	"fmt"

	"github.com/dronesar/milosar/experiment"
	"github.com/spf13/viper"
)

// CONFIG_DIR is where setup.ini lives on the redpitaya image.
const CONFIG_DIR = "/opt/redpitaya/milosar"

// loadConfig reads the experiment configuration from an INI file.  If
// path is empty it looks for setup.ini in CONFIG_DIR and then in the
// current directory, for convenience.  Keys the file does not set keep
// their defaults.  It returns the configuration and the file read.
func loadConfig(path string) (experiment.Config, string, error) {
	cfg := experiment.Defaults()
	v := viper.New()
	v.SetConfigType("ini")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("setup")
		v.AddConfigPath(CONFIG_DIR)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		return cfg, "", fmt.Errorf("setup file: %w", err)
	}
	for _, s := range []struct {
		key string
		out any
	}{
		{"misc", &cfg.Misc},
		{"files", &cfg.Files},
		{"timing", &cfg.Timing},
		{"gpsd", &cfg.GPSD},
		{"sampling", &cfg.Sampling},
	} {
		if err := v.UnmarshalKey(s.key, s.out); err != nil {
			return cfg, "", fmt.Errorf("%s: [%s]: %w", v.ConfigFileUsed(), s.key, err)
		}
	}
	return cfg, v.ConfigFileUsed(), cfg.Validate()
}
