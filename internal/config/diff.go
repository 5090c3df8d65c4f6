package config

import (
	"reflect"
	"sort"
	"strings"

	logx "fmesched/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// structured attrs safe for logging (never includes the notifier token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.String("server.public_dir", strings.TrimSpace(newCfg.Server.PublicDir)),
			logx.Int("server.run_rate_per_min", newCfg.Server.RunRatePerMin),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.jobs_file", strings.TrimSpace(newCfg.Scheduler.JobsFile)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.String("runner.executable", strings.TrimSpace(newCfg.Runner.Executable)),
			logx.String("runner.scripts_dir", strings.TrimSpace(newCfg.Runner.ScriptsDir)),
			logx.String("runner.run_timeout", strings.TrimSpace(newCfg.Runner.RunTimeout)),
		)
	}

	// Nil means disabled.
	oldS, newS := oldCfg.Storage, newCfg.Storage
	if (oldS == nil) != (newS == nil) || (oldS != nil && !reflect.DeepEqual(*oldS, *newS)) {
		changed = append(changed, "storage")
		var driver string
		var pathSet bool
		if newS != nil {
			driver = strings.TrimSpace(newS.Driver)
			pathSet = strings.TrimSpace(newS.Path) != ""
		}
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
		)
	}

	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if (oldN == nil) != (newN == nil) || (oldN != nil && !reflect.DeepEqual(*oldN, *newN)) {
		changed = append(changed, "notifier")
		enabled, tokenSet := false, false
		if newN != nil {
			enabled = newN.Enabled
			tokenSet = strings.TrimSpace(newN.Token) != ""
		}
		attrs = append(attrs,
			logx.Bool("notifier.enabled", enabled),
			logx.Bool("notifier.token_set", tokenSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
