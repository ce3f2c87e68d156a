package global

import "time"

const (
	ConfigFileName = "nodexec"
	EnvPrefix      = "NODEXEC"

	DefaultStoreDir        = "nodedata"
	DefaultNetworkName     = "nodexec-testnet"
	DefaultPeeringPort     = 4000
	DefaultQueryPort       = 8000
	DefaultSubscribePort   = 8001
	DefaultMetricsPort     = 14000
	DefaultSeedTimeout     = 30 * time.Second
	DefaultSyncTimeout     = 5 * time.Minute
	DefaultSyncCheckPeriod = time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMemLogPeriod    = 10 * time.Second

	// MaxHeadersPortion max number of headers in one pull response
	MaxHeadersPortion = 500
)
