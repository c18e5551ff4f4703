package poingest

import (
	"os"
)

var DefaultLogger Logger

// SetLogger set a logger instance for the pipeline
func SetLogger(logger Logger) {
	DefaultLogger = logger
}

func init() {
	DefaultLogger = NewLogger(os.Stdout, Info)
}

// task pool
const (
	DefaultJobPoolSize   = 10
	DefaultFetchPoolSize = 64
)

var jobPool = newTaskPool(DefaultJobPoolSize)
var fetchPool = newTaskPool(DefaultFetchPoolSize)

// SetMaxRunningJobs set max number of parallel ingest jobs
func SetMaxRunningJobs(size int) {
	jobPool.SetMaxSize(size)
}

// SetMaxFetchTasks set max number of page fetches in flight across all jobs
func SetMaxFetchTasks(size int) {
	fetchPool.SetMaxSize(size)
}
