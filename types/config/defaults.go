package config

import "time"

const (
	DefaultStorageDriver = Sqlite
	DefaultSqlitePath    = "taskfire.db"

	DefaultPollInterval  = 10 * time.Second
	DefaultLeaseTTL      = 5 * time.Minute
	DefaultWorkerCount   = 5
	DefaultBatchSize     = 100
	DefaultMaxRetries    = 3
	DefaultBackoffBase   = time.Second
	DefaultBackoffCap    = 5 * time.Minute
	DefaultActionTimeout = 30 * time.Second
	DefaultBreakerWindow = 15 * time.Minute
)
