package main

import (
	"fmt"

	"github.com/Velocidex/yaml/v2"
	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/memtriage/config"
)

var (
	config_command = app.Command(
		"config", "Manipulate the configuration.")
	config_show_command = config_command.Command(
		"show", "Show the current config.")
	config_generate_command = config_command.Command(
		"generate", "Generate a new config file with the defaults.")
)

func doShowConfig() error {
	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return fmt.Errorf("Unable to load config: %w", err)
	}

	res, err := yaml.Marshal(config_obj)
	if err != nil {
		return err
	}
	fmt.Printf("%v", string(res))
	return nil
}

func doGenerateConfig() error {
	config_obj := config.GetDefaultConfig()

	res, err := yaml.Marshal(config_obj)
	if err != nil {
		return err
	}
	fmt.Printf("%v", string(res))
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case config_show_command.FullCommand():
			kingpin.FatalIfError(doShowConfig(), "config show")

		case config_generate_command.FullCommand():
			kingpin.FatalIfError(doGenerateConfig(), "config generate")

		default:
			return false
		}
		return true
	})
}
