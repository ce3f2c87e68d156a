package memlog

import (
	"runtime"
	"time"

	"github.com/lunfardo314/nodexec/global"
)

const Name = "memlog"

// Start periodically logs uptime, memory and goroutine statistics, prefixed with the status line
func Start(env global.NodeGlobal, period time.Duration, status func() string) {
	started := time.Now()
	var mstats runtime.MemStats

	env.RepeatInBackground(Name, period, func() bool {
		runtime.ReadMemStats(&mstats)
		env.Log().Infof("[memlog] %s, uptime: %v, allocated: %.1f MB, system: %.1f MB, Num GC: %d, Goroutines: %d",
			status(),
			time.Since(started).Round(time.Second),
			float32(mstats.Alloc*10/(1024*1024))/10,
			float32(mstats.Sys*10/(1024*1024))/10,
			mstats.NumGC,
			runtime.NumGoroutine(),
		)
		return true
	}, true)
}
