// The orchestrator drives the analysis of whole dumps.
//
// A new dump gets one result per plugin its author enabled. The batch
// then runs every applicable plugin on the scheduler and waits for
// them all before marking the dump complete. Linux dumps first run
// the banners plugin synchronously so the kernel is known before the
// rest of the plugins start.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/paths"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

type Orchestrator struct {
	config_obj *config_proto.Config
	logger     *logging.LogContext

	// Background work outlives the request that started it.
	ctx context.Context

	mu      sync.Mutex
	batches map[string]*services.Future
}

func (self *Orchestrator) CreateDump(ctx context.Context,
	principal, name, operating_system, path string) (*models.Dump, error) {

	switch operating_system {
	case constants.OS_LINUX, constants.OS_WINDOWS,
		constants.OS_MAC, constants.OS_OTHER:
	default:
		return nil, fmt.Errorf("%w: unknown operating system %v",
			utils.InvalidArgError, operating_system)
	}

	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewUUID()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	dump := &models.Dump{
		Index:   id.String(),
		Name:    name,
		Path:    path,
		OS:      operating_system,
		Status:  models.DumpUploaded,
		Author:  principal,
		Created: utils.GetTime().Now(),
	}

	path_manager := paths.NewDumpPathManager(self.config_obj, dump.Index)
	err = os.MkdirAll(path_manager.Path(), 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	err = db.SetDump(ctx, dump)
	if err != nil {
		return nil, err
	}

	results, err := self.initialResults(ctx, db, principal, dump)
	if err != nil {
		return nil, err
	}

	err = db.CreateResults(ctx, results)
	if err != nil {
		return nil, err
	}

	err = db.GrantAccess(ctx, principal, dump.Index)
	if err != nil {
		return nil, err
	}

	self.logger.Info("Orchestrator: created dump <green>%v</> (%v, %v) with %v results",
		dump.Index, dump.Name, dump.OS, len(results))

	err = self.launchBatch(dump.Index)
	if err != nil {
		return nil, err
	}

	return dump, nil
}

// One result for every enabled plugin the principal has chosen that
// applies to the dump's operating system. Plugins the principal does
// not run automatically are recorded as not applicable.
func (self *Orchestrator) initialResults(ctx context.Context,
	db datastore.DataStore, principal string,
	dump *models.Dump) ([]*models.Result, error) {

	records, err := db.ListPlugins(ctx)
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]*models.Plugin)
	for _, record := range records {
		lookup[record.Name] = record
	}

	user_plugins, err := db.ListUserPlugins(ctx, principal)
	if err != nil {
		return nil, err
	}

	now := utils.GetTime().Now()
	result := []*models.Result{}
	for _, user_plugin := range user_plugins {
		record, pres := lookup[user_plugin.Plugin]
		if !pres || record.Disabled {
			continue
		}

		if record.OS != dump.OS && record.OS != constants.OS_OTHER {
			continue
		}

		status := models.StatusNotApplicable
		if user_plugin.Automatic {
			status = models.StatusPending
		}

		result = append(result, &models.Result{
			Dump:    dump.Index,
			Plugin:  record.Name,
			Status:  status,
			Updated: now,
		})
	}

	return result, nil
}

func (self *Orchestrator) launchBatch(dump_index string) error {
	scheduler, err := services.GetScheduler()
	if err != nil {
		return err
	}

	future, err := scheduler.Submit(self.ctx, "batch/"+dump_index,
		func(ctx context.Context) (interface{}, error) {
			return nil, self.RunBatch(ctx, dump_index)
		})
	if err != nil {
		return err
	}

	self.mu.Lock()
	self.batches[dump_index] = future
	self.mu.Unlock()

	return nil
}

// Wait for the batch started by CreateDump to finish. Returns
// immediately if no batch was started for the dump.
func (self *Orchestrator) Wait(ctx context.Context, dump_index string) error {
	self.mu.Lock()
	future, pres := self.batches[dump_index]
	self.mu.Unlock()

	if !pres {
		return nil
	}

	_, err := future.Wait(ctx)
	if ctx.Err() != nil {
		return err
	}

	self.mu.Lock()
	if self.batches[dump_index] == future {
		delete(self.batches, dump_index)
	}
	self.mu.Unlock()

	return err
}

func (self *Orchestrator) RunBatch(ctx context.Context, dump_index string) error {
	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return err
	}

	dump, err := db.GetDump(ctx, dump_index)
	if err != nil {
		return err
	}

	_, err = os.Stat(dump.Path)
	if err != nil {
		self.logger.Error("Orchestrator: dump %v is invalid: %v", dump_index, err)
		dump.Status = models.DumpInvalid
		set_err := db.SetDump(ctx, dump)
		if set_err != nil {
			return set_err
		}
		return fmt.Errorf("%w: dump file %v", utils.NotFoundError, dump.Path)
	}

	dump.Status = models.DumpProcessing
	err = db.SetDump(ctx, dump)
	if err != nil {
		return err
	}

	runner, err := services.GetRunner()
	if err != nil {
		return err
	}

	scheduler, err := services.GetScheduler()
	if err != nil {
		return err
	}

	results, err := db.ListResults(ctx, dump_index)
	if err != nil {
		return err
	}

	is_linux := dump.OS == constants.OS_LINUX
	if is_linux {
		err = self.identifyKernel(ctx, db, runner, dump, results)
		if err != nil {
			self.logger.Error("Orchestrator: [dump %v] unable to identify kernel: %v",
				dump_index, err)
		}
	}

	futures := []*services.Future{}
	for _, result := range results {
		if result.Status == models.StatusNotApplicable {
			continue
		}

		if is_linux && result.Plugin == constants.BANNERS_PLUGIN {
			continue
		}

		plugin_name := result.Plugin
		rerun := result.Status.IsTerminal()
		future, err := scheduler.Submit(ctx, taskKey(dump_index, plugin_name),
			func(ctx context.Context) (interface{}, error) {
				if rerun {
					err := self.discardRun(ctx, db, dump_index, plugin_name)
					if err != nil {
						return nil, err
					}
				}
				return nil, runner.RunPlugin(ctx, dump_index, plugin_name, nil)
			})
		if err != nil {
			self.logger.Warn("Orchestrator: [dump %v - plugin %v] not submitted: %v",
				dump_index, plugin_name, err)
			continue
		}
		futures = append(futures, future)
	}

	self.logger.Info("Orchestrator: [dump <green>%v</>] running %v plugins",
		dump_index, len(futures))

	gathered, err := services.GatherDetached(ctx, scheduler, futures)
	for _, task := range gathered {
		if task.Err != nil {
			self.logger.Error("Orchestrator: task %v failed: %v", task.Name, task.Err)
		}
	}
	if err != nil {
		return err
	}

	// Kernel identification may have updated the dump.
	dump, err = db.GetDump(ctx, dump_index)
	if err != nil {
		return err
	}

	dump.Status = models.DumpComplete
	err = db.SetDump(ctx, dump)
	if err != nil {
		return err
	}

	self.logger.Info("Orchestrator: [dump <green>%v</>] complete", dump_index)
	return nil
}

// Run the banners plugin in the batch's own slot then read its rows
// back from the index.
func (self *Orchestrator) identifyKernel(ctx context.Context,
	db datastore.DataStore, runner services.Runner,
	dump *models.Dump, results []*models.Result) error {

	var banners *models.Result
	for _, result := range results {
		if result.Plugin == constants.BANNERS_PLUGIN {
			banners = result
			break
		}
	}

	if banners == nil || banners.Status == models.StatusNotApplicable {
		self.logger.Info("Orchestrator: [dump %v] %v not selected, kernel unknown",
			dump.Index, constants.BANNERS_PLUGIN)
		return nil
	}

	if banners.Status.IsTerminal() {
		err := self.discardRun(ctx, db, dump.Index, constants.BANNERS_PLUGIN)
		if err != nil {
			return err
		}
	}

	err := runner.RunPlugin(ctx, dump.Index, constants.BANNERS_PLUGIN, nil)
	if err != nil {
		return err
	}

	indexer, err := services.GetIndexer()
	if err != nil {
		return err
	}

	rows, err := indexer.Search(ctx,
		paths.IndexName(dump.Index, constants.BANNERS_PLUGIN), 0)
	if err != nil {
		return err
	}

	if !CheckOS(dump, rows) {
		self.logger.Info("Orchestrator: [dump %v] no kernel banner found", dump.Index)
		return nil
	}

	self.logger.Info("Orchestrator: [dump %v] kernel %v family %v arch %v",
		dump.Index, dump.Kernel, dump.Family, dump.Architecture)

	return db.SetDump(ctx, dump)
}

func (self *Orchestrator) DeleteDump(ctx context.Context, dump_index string) error {
	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return err
	}

	_, err = db.GetDump(ctx, dump_index)
	if err != nil {
		return err
	}

	indexer, err := services.GetIndexer()
	if err != nil {
		return err
	}

	path_manager := paths.NewDumpPathManager(self.config_obj, dump_index)
	err = indexer.DeleteIndex(ctx, path_manager.IndexPattern())
	if err != nil {
		return err
	}

	err = os.RemoveAll(path_manager.Path())
	if err != nil {
		return errors.Wrap(err, 0)
	}

	err = db.DeleteDump(ctx, dump_index)
	if err != nil {
		return err
	}

	self.logger.Info("Orchestrator: deleted dump <green>%v</>", dump_index)
	return nil
}

func (self *Orchestrator) Resubmit(
	ctx context.Context, request *services.ResubmitRequest) error {
	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return err
	}

	result, err := db.GetResult(ctx, request.DumpIndex, request.Plugin)
	if err != nil {
		return err
	}

	plugin, err := plugins.Get(request.Plugin)
	if err != nil {
		return err
	}

	params, err := plugins.ParseFormValues(plugin.Requirements(), request.Values)
	if err != nil {
		return err
	}

	err = models.CheckTransition(result.Status, models.StatusPending)
	if err != nil {
		return err
	}

	scheduler, err := services.GetScheduler()
	if err != nil {
		return err
	}

	runner, err := services.GetRunner()
	if err != nil {
		return err
	}

	// Nothing is touched while a run of the plugin is in flight.
	reservation, err := scheduler.Reserve(
		taskKey(request.DumpIndex, request.Plugin))
	if err != nil {
		return err
	}
	defer reservation.Release()

	err = self.discardRun(ctx, db, request.DumpIndex, request.Plugin)
	if err != nil {
		return err
	}

	path_manager := paths.NewDumpPathManager(self.config_obj, request.DumpIndex)
	plugin_dir := path_manager.PluginDirectory(request.Plugin)

	// Uploaded files are kept with the plugin's captured files.
	if len(request.Files) > 0 {
		err = os.MkdirAll(plugin_dir, 0700)
		if err != nil {
			return errors.Wrap(err, 0)
		}
	}

	for name, src := range request.Files {
		dst := path_manager.ExtractedFile(request.Plugin, filepath.Base(src))
		err = utils.MoveFile(ctx, src, dst, 0600)
		if err != nil {
			return err
		}
		params.Set(name, constants.FILE_PARAMETER_PREFIX+dst)
	}

	result.Status = models.StatusPending
	result.Description = ""
	result.Parameter = params
	result.Updated = utils.GetTime().Now()
	err = db.SaveResult(ctx, result)
	if err != nil {
		return err
	}

	_, err = reservation.Submit(self.ctx,
		func(ctx context.Context) (interface{}, error) {
			return nil, runner.RunPlugin(ctx,
				request.DumpIndex, request.Plugin, params)
		})
	if err != nil {
		return err
	}

	self.logger.Info("Orchestrator: [dump %v - plugin <green>%v</>] resubmitted",
		request.DumpIndex, request.Plugin)
	return nil
}

// Drop the rows, file records and files an earlier run of the plugin
// left behind.
func (self *Orchestrator) discardRun(ctx context.Context,
	db datastore.DataStore, dump_index, plugin_name string) error {
	indexer, err := services.GetIndexer()
	if err != nil {
		return err
	}

	path_manager := paths.NewDumpPathManager(self.config_obj, dump_index)
	err = indexer.DeleteIndex(ctx, path_manager.IndexName(plugin_name))
	if err != nil {
		return err
	}

	err = db.DeleteExtractedFiles(ctx, dump_index, plugin_name)
	if err != nil {
		return err
	}

	err = os.RemoveAll(path_manager.PluginDirectory(plugin_name))
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

// At most one task runs for each (dump, plugin) pair.
func taskKey(dump_index, plugin_name string) string {
	return dump_index + "/" + plugin_name
}

func NewOrchestrator(ctx context.Context,
	config_obj *config_proto.Config) *Orchestrator {
	return &Orchestrator{
		config_obj: config_obj,
		logger:     logging.GetLogger(config_obj, &logging.OrchestratorComponent),
		ctx:        ctx,
		batches:    make(map[string]*services.Future),
	}
}

func StartOrchestratorService(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	orchestrator := NewOrchestrator(ctx, config_obj)
	orchestrator.logger.Info("Starting <green>Batch Orchestrator</>")
	services.RegisterOrchestrator(orchestrator)

	return nil
}
