package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// LoggerName is the name guard components request from a provider.
const LoggerName = "guard"

// Resolve picks the provider logger, then the direct logger, then a nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if name == "" {
		name = LoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// Named returns the logger for a guard subsystem such as "guard.http" or
// "guard.sweep", falling back to the resolved root logger.
func Named(provider glog.LoggerProvider, root glog.Logger, subsystem string) glog.Logger {
	if provider != nil && subsystem != "" {
		if named := provider.GetLogger(LoggerName + "." + subsystem); named != nil {
			return named
		}
	}
	return glog.Ensure(root)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the guard logger and also returns its go-job
// bridges for the sweep worker.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
