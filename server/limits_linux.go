//go:build linux
// +build linux

package server

import (
	"syscall"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/logging"
)

// Every listening principal holds a websocket and the local index
// keeps segment files open while plugins ingest rows.
const max_open_files = 65536

// Raise the soft limit as far as the hard limit allows. Only root may
// raise the hard limit too.
func IncreaseLimits(config_obj *config_proto.Config) {
	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	var limit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)
	if err != nil {
		logger.Info("IncreaseLimits: Getrlimit: %v", err)
		return
	}

	if limit.Cur >= max_open_files {
		return
	}

	wanted := limit
	wanted.Cur = max_open_files
	if wanted.Max < max_open_files {
		wanted.Max = max_open_files
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &wanted)
	if err != nil {
		// Not root: stay under the hard limit.
		wanted.Max = limit.Max
		wanted.Cur = limit.Max
		err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &wanted)
		if err != nil {
			logger.Info("IncreaseLimits: unable to raise open file limit: %v", err)
			return
		}
	}

	logger.Info("IncreaseLimits: open file limit is now %v", wanted.Cur)
}
