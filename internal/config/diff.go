package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to hot-reload are tracked; core cadence/admission parameters
// require a restart and are reported but not auto-applied.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged bool
	CoreChanged      bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.ProvidersChanged = true
	}

	if old.Core != new.Core {
		d.CoreChanged = true
	}

	return d
}
