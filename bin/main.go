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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/memtriage/config"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

type CommandHandler func(command string) bool

var (
	app = kingpin.New("memtriage",
		"Orchestrates the analysis of memory dumps.")

	config_path = app.Flag("config", "The configuration file.").Short('c').
			Envar("MEMTRIAGE_CONFIG").String()

	verbose_flag = app.Flag(
		"verbose", "Enabled verbose logging.").Short('v').
		Default("false").Bool()

	logging_flag = app.Flag(
		"logfile", "Write to this file as well").String()

	tempdir_flag = app.Flag(
		"tempdir", "Write all temp files to this directory").String()

	plugin_definitions_dir = app.Flag(
		"definitions", "A directory containing plugin definitions").String()

	// Overrides set with the hidden --config.* flags.
	flag_config *config_proto.Config

	command_handlers []CommandHandler
)

func makeDefaultConfigLoader() *config.Loader {
	return new(config.Loader).
		WithVerbose(*verbose_flag).
		WithTempdir(*tempdir_flag).
		WithLogFile(*logging_flag).
		WithFileLoader(*config_path).
		WithDefaultLoader().
		WithOverrides(flag_config).
		WithPluginDefinitions(*plugin_definitions_dir)
}

func install_sig_handler() (context.Context, context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-quit:
			cancel()

		case <-ctx.Done():
			return
		}
	}()

	return ctx, cancel
}

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)

	var err error
	flag_config, err = registerConfigFlags(app)
	kingpin.FatalIfError(err, "Parsing config flags.")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	for _, command_handler := range command_handlers {
		if command_handler(command) {
			break
		}
	}
}
