package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	ListenAddrChanged bool
	LiveChanged       bool
	AudioChanged      bool
	ReportingChanged  bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr
	d.LiveChanged = !liveEqual(old.Live, new.Live)
	d.AudioChanged = old.Audio != new.Audio
	d.ReportingChanged = old.Reporting != new.Reporting
	return d
}

func liveEqual(a, b LiveConfig) bool {
	return a.Transport == b.Transport &&
		a.APIKey == b.APIKey &&
		a.Model == b.Model &&
		a.BaseURL == b.BaseURL &&
		a.Voice == b.Voice &&
		a.Instructions == b.Instructions &&
		slices.Equal(a.Tools, b.Tools)
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return len(d.Sections()) > 0
}

// Sections lists the changed top-level keys, for logging.
func (d ConfigDiff) Sections() []string {
	var s []string
	if d.LogLevelChanged {
		s = append(s, "server.log_level")
	}
	if d.ListenAddrChanged {
		s = append(s, "server.listen_addr")
	}
	if d.LiveChanged {
		s = append(s, "live")
	}
	if d.AudioChanged {
		s = append(s, "audio")
	}
	if d.ReportingChanged {
		s = append(s, "reporting")
	}
	return s
}
