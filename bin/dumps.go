package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/paths"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/startup"
	"www.velocidex.com/golang/memtriage/utils"
)

var (
	dump_command = app.Command("dump", "Manage memory dumps.")

	dump_principal = dump_command.Flag("principal",
		"Act on behalf of this principal.").
		Envar("MEMTRIAGE_PRINCIPAL").Default("admin").String()

	dump_list_command = dump_command.Command("list", "List all dumps.")

	dump_create_command = dump_command.Command("create",
		"Register a memory image and analyse it.")
	dump_create_name = dump_create_command.Arg("name",
		"A name for the dump.").Required().String()
	dump_create_path = dump_create_command.Arg("path",
		"Path to the memory image.").Required().ExistingFile()
	dump_create_os = dump_create_command.Flag("os",
		"Operating system of the image.").Default("Windows").
		Enum("Linux", "Windows", "Mac", "Other")

	dump_run_command = dump_command.Command("run",
		"Run the batch on an existing dump again.")
	dump_run_index = dump_run_command.Arg("index",
		"The dump index.").Required().String()

	dump_delete_command = dump_command.Command("delete",
		"Delete a dump with its results and extracted files.")
	dump_delete_index = dump_delete_command.Arg("index",
		"The dump index.").Required().String()

	dump_results_command = dump_command.Command("results",
		"Show the results of all plugins on a dump.")
	dump_results_index = dump_results_command.Arg("index",
		"The dump index.").Required().String()

	dump_rows_command = dump_command.Command("rows",
		"Print the rows a plugin produced as JSONL.")
	dump_rows_index = dump_rows_command.Arg("index",
		"The dump index.").Required().String()
	dump_rows_plugin = dump_rows_command.Arg("plugin",
		"The plugin name.").Required().String()
	dump_rows_limit = dump_rows_command.Flag("limit",
		"Maximum number of rows (0 for all).").Default("0").Int()

	dump_resubmit_command = dump_command.Command("resubmit",
		"Run a single plugin on a dump again with new parameters.")
	dump_resubmit_index = dump_resubmit_command.Arg("index",
		"The dump index.").Required().String()
	dump_resubmit_plugin = dump_resubmit_command.Arg("plugin",
		"The plugin name.").Required().String()
	dump_resubmit_values = dump_resubmit_command.Flag("set",
		"Parameter values as name=value.").StringMap()
	dump_resubmit_files = dump_resubmit_command.Flag("file",
		"File parameters as name=path.").StringMap()
)

func startDumpServices(ctx context.Context) (
	*config_proto.Config, *services.Service, error) {
	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return nil, nil, fmt.Errorf("Unable to load config file: %w", err)
	}

	sm, err := startup.StartToolServices(ctx, config_obj)
	if err != nil {
		sm.Close()
		return nil, nil, err
	}
	return config_obj, sm, nil
}

func doDumpList() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}
	defer datastore.CloseDB(config_obj)

	dumps, err := db.ListDumps(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	defer table.Render()

	table.SetHeader([]string{"Index", "Name", "OS", "Status", "Author", "Created"})
	for _, dump := range dumps {
		table.Append([]string{
			dump.Index, dump.Name, dump.OS, dump.Status.String(),
			dump.Author, humanize.Time(dump.Created),
		})
	}
	return nil
}

func doDumpCreate() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, sm, err := startDumpServices(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()

	orchestrator, err := services.GetOrchestrator()
	if err != nil {
		return err
	}

	dump, err := orchestrator.CreateDump(ctx, *dump_principal,
		*dump_create_name, *dump_create_os, *dump_create_path)
	if err != nil {
		return err
	}

	fmt.Printf("Created dump %v\n", dump.Index)

	// The batch dies with the process so wait for it here.
	err = orchestrator.Wait(ctx, dump.Index)
	if err != nil {
		return err
	}
	return printResults(ctx, config_obj, dump.Index)
}

func doDumpRun() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, sm, err := startDumpServices(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()

	orchestrator, err := services.GetOrchestrator()
	if err != nil {
		return err
	}

	err = orchestrator.RunBatch(ctx, *dump_run_index)
	if err != nil {
		return err
	}
	return printResults(ctx, config_obj, *dump_run_index)
}

func doDumpDelete() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	_, sm, err := startDumpServices(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()

	orchestrator, err := services.GetOrchestrator()
	if err != nil {
		return err
	}

	return orchestrator.DeleteDump(ctx, *dump_delete_index)
}

func doDumpResults() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}
	defer datastore.CloseDB(config_obj)

	return printResults(ctx, config_obj, *dump_results_index)
}

func doDumpRows() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	_, sm, err := startDumpServices(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()

	indexer, err := services.GetIndexer()
	if err != nil {
		return err
	}

	rows, err := indexer.Search(ctx,
		paths.IndexName(*dump_rows_index, *dump_rows_plugin), *dump_rows_limit)
	if err != nil {
		return err
	}

	serialized, err := json.MarshalJsonl(rows)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(serialized)
	return err
}

func doDumpResubmit() error {
	ctx, cancel := install_sig_handler()
	defer cancel()

	config_obj, sm, err := startDumpServices(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()

	orchestrator, err := services.GetOrchestrator()
	if err != nil {
		return err
	}

	err = orchestrator.Resubmit(ctx, &services.ResubmitRequest{
		DumpIndex: *dump_resubmit_index,
		Plugin:    *dump_resubmit_plugin,
		Values:    *dump_resubmit_values,
		Files:     *dump_resubmit_files,
	})
	if err != nil {
		return err
	}

	err = waitForResult(ctx, config_obj,
		*dump_resubmit_index, *dump_resubmit_plugin)
	if err != nil {
		return err
	}
	return printResults(ctx, config_obj, *dump_resubmit_index)
}

// Resubmitted plugins run in the background. Poll the result until
// it leaves the pending state.
func waitForResult(ctx context.Context, config_obj *config_proto.Config,
	dump_index, plugin_name string) error {
	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	for {
		result, err := db.GetResult(ctx, dump_index, plugin_name)
		if err != nil {
			return err
		}

		if result.Status != models.StatusPending {
			return nil
		}

		select {
		case <-ctx.Done():
			return utils.CancelledError
		case <-time.After(time.Second):
		}
	}
}

func printResults(ctx context.Context,
	config_obj *config_proto.Config, dump_index string) error {
	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	results, err := db.ListResults(ctx, dump_index)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	defer table.Render()

	table.SetHeader([]string{"Plugin", "Status", "Updated", "Description"})
	for _, result := range results {
		updated := ""
		if !result.Updated.IsZero() {
			updated = humanize.Time(result.Updated)
		}
		table.Append([]string{
			result.Plugin, result.Status.String(), updated, result.Description,
		})
	}
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case dump_list_command.FullCommand():
			kingpin.FatalIfError(doDumpList(), "dump list")

		case dump_create_command.FullCommand():
			kingpin.FatalIfError(doDumpCreate(), "dump create")

		case dump_run_command.FullCommand():
			kingpin.FatalIfError(doDumpRun(), "dump run")

		case dump_delete_command.FullCommand():
			kingpin.FatalIfError(doDumpDelete(), "dump delete")

		case dump_results_command.FullCommand():
			kingpin.FatalIfError(doDumpResults(), "dump results")

		case dump_rows_command.FullCommand():
			kingpin.FatalIfError(doDumpRows(), "dump rows")

		case dump_resubmit_command.FullCommand():
			kingpin.FatalIfError(doDumpResubmit(), "dump resubmit")

		default:
			return false
		}
		return true
	})
}
