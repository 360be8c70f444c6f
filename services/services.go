/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package services

import (
	"context"
	"sync"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

type StarterFunc func(ctx context.Context, wg *sync.WaitGroup,
	config_obj *config_proto.Config) error

// Owns the lifetime of the running services. Each service registers
// itself from its starter and exits when Ctx is done. Close() waits
// for all of them.
type Service struct {
	Ctx    context.Context
	Wg     *sync.WaitGroup
	Config *config_proto.Config

	cancel func()
}

func (self *Service) Start(starter StarterFunc) error {
	return starter(self.Ctx, self.Wg, self.Config)
}

// Start the services in order, stopping at the first failure.
func (self *Service) StartAll(starters ...StarterFunc) error {
	for _, starter := range starters {
		err := self.Start(starter)
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *Service) Close() {
	self.cancel()
	self.Wg.Wait()
}

func NewServiceManager(ctx context.Context,
	config_obj *config_proto.Config) *Service {
	sub_ctx, cancel := context.WithCancel(ctx)
	return &Service{
		Ctx:    sub_ctx,
		Wg:     &sync.WaitGroup{},
		Config: config_obj,
		cancel: cancel,
	}
}
