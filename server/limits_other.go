//go:build !linux
// +build !linux

package server

import (
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

func IncreaseLimits(config_obj *config_proto.Config) {}
