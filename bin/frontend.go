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
package main

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/memtriage/config"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/startup"
)

var (
	frontend_command = app.Command("frontend", "Run the frontend and the analysis services.")
)

func doFrontend() error {
	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return fmt.Errorf("Unable to load config file: %w", err)
	}

	ctx, cancel := install_sig_handler()
	defer cancel()

	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)
	commit, build_time := config.GetVersion()
	logger.Info("Starting Frontend. Commit %v built %v", commit, build_time)

	sm, err := startup.StartFrontendServices(ctx, config_obj)
	defer sm.Close()
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == frontend_command.FullCommand() {
			kingpin.FatalIfError(doFrontend(), "frontend")
			return true
		}
		return false
	})
}
