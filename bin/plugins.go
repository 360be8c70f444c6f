package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/olekukonko/tablewriter"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/startup"
)

var (
	plugins_command = app.Command("plugins", "Manage the plugin catalog.")

	plugins_list_command = plugins_command.Command("list",
		"List the plugins known to the datastore.")

	plugins_sync_command = plugins_command.Command("sync",
		"Record all builtin and loaded plugins in the datastore.")

	plugins_select_command = plugins_command.Command("select",
		"Select a plugin for a principal's new dumps.")
	plugins_select_principal = plugins_select_command.Arg("principal",
		"The principal.").Required().String()
	plugins_select_name = plugins_select_command.Arg("plugin",
		"The plugin name.").Required().String()
	plugins_select_manual = plugins_select_command.Flag("manual",
		"Create the result but only run it when resubmitted.").Bool()

	plugins_disable_command = plugins_command.Command("disable",
		"Disable a plugin for everyone.")
	plugins_disable_name = plugins_disable_command.Arg("plugin",
		"The plugin name.").Required().String()
	plugins_disable_enable = plugins_disable_command.Flag("enable",
		"Enable the plugin again.").Bool()
)

func doPluginsList() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}
	defer datastore.CloseDB(config_obj)

	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	records, err := db.ListPlugins(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	defer table.Render()

	table.SetHeader([]string{"Name", "OS", "Flags", "Disabled"})
	for _, record := range records {
		table.Append([]string{
			record.Name, record.OS, formatFlags(record),
			fmt.Sprintf("%v", record.Disabled),
		})
	}
	return nil
}

func formatFlags(record *models.Plugin) string {
	flags := []string{}
	if record.LocalDump {
		flags = append(flags, "local_dump")
	}
	if record.ClamavCheck {
		flags = append(flags, "clamav_check")
	}
	if record.VtCheck {
		flags = append(flags, "vt_check")
	}
	if record.RegipyCheck {
		flags = append(flags, "regipy_check")
	}
	return strings.Join(flags, ",")
}

func doPluginsSync() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}
	defer datastore.CloseDB(config_obj)

	err = startup.SyncPlugins(ctx, config_obj)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %v plugins\n", len(plugins.List()))
	return nil
}

func doPluginsSelect() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}
	defer datastore.CloseDB(config_obj)

	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	// Only plugins in the catalog can be selected.
	_, err = db.GetPlugin(ctx, *plugins_select_name)
	if err != nil {
		return err
	}

	return db.SetUserPlugin(ctx, &models.UserPlugin{
		Principal: *plugins_select_principal,
		Plugin:    *plugins_select_name,
		Automatic: !*plugins_select_manual,
	})
}

func doPluginsDisable() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}
	defer datastore.CloseDB(config_obj)

	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	record, err := db.GetPlugin(ctx, *plugins_disable_name)
	if err != nil {
		return err
	}

	record.Disabled = !*plugins_disable_enable
	return db.SetPlugin(ctx, record)
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case plugins_list_command.FullCommand():
			kingpin.FatalIfError(doPluginsList(), "plugins list")

		case plugins_sync_command.FullCommand():
			kingpin.FatalIfError(doPluginsSync(), "plugins sync")

		case plugins_select_command.FullCommand():
			kingpin.FatalIfError(doPluginsSelect(), "plugins select")

		case plugins_disable_command.FullCommand():
			kingpin.FatalIfError(doPluginsDisable(), "plugins disable")

		default:
			return false
		}
		return true
	})
}
