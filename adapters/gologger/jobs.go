package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// JobsLoggerName is the component name background job loggers are filed under.
const JobsLoggerName = "jobs"

// Component picks the logger for a named relay component: the provider's
// logger when there is a provider, then the given logger, then a nop.
func Component(name string, provider glog.LoggerProvider, logger glog.Logger) glog.Logger {
	_, resolved := glog.Resolve(name, provider, logger)
	return glog.Ensure(resolved)
}

// JobLoggers carries a relay logger in the shapes go-job workers accept.
type JobLoggers struct {
	Logger   glog.Logger
	Job      job.Logger
	Provider job.LoggerProvider
}

// ForJobs resolves the jobs component logger and bridges it to go-job. The
// go-job provider always hands out the resolved jobs logger.
func ForJobs(provider glog.LoggerProvider, logger glog.Logger) JobLoggers {
	resolvedProvider, resolved := glog.Resolve(JobsLoggerName, provider, logger)
	resolved = glog.Ensure(resolved)
	return JobLoggers{
		Logger:   resolved,
		Job:      job.GoLogger(resolved),
		Provider: job.GoLoggerProvider(resolvedProvider),
	}
}
