package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ReplayLedger    = (*Service)(nil)
	_ ReplayForgetter = (*Service)(nil)
	_ WindowStore     = (*Service)(nil)
	_ Purger          = (*Service)(nil)

	_ ReplayLedger    = (*MemoryReplayLedger)(nil)
	_ ReplayForgetter = (*MemoryReplayLedger)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
