// Runs a single plugin against a single dump and records the
// outcome in the plugin's result.
package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/file_store"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/paths"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/services/enrichment"
	"www.velocidex.com/golang/memtriage/uploads"
	"www.velocidex.com/golang/memtriage/utils"
)

var (
	metricsPluginRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtriage_plugin_runs",
			Help: "Number of finished plugin runs by outcome.",
		},
		[]string{"status"},
	)

	metricsPluginLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memtriage_plugin_run_seconds",
			Help:    "Time taken by a plugin run including ingestion.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		})
)

type Runner struct {
	config_obj *config_proto.Config
	logger     *logging.LogContext

	// May be nil when no mirror is configured.
	mirror uploads.Mirror

	dispatcher *enrichment.Dispatcher
}

// The outcome of running the plugin before it is recorded.
type runOutcome struct {
	status      models.ResultStatus
	description string
}

func (self *Runner) RunPlugin(ctx context.Context,
	dump_index, plugin_name string, params *ordereddict.Dict) error {

	start := time.Now()
	defer func() {
		metricsPluginLatency.Observe(time.Since(start).Seconds())
	}()

	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return err
	}

	dump, err := db.GetDump(ctx, dump_index)
	if err != nil {
		return err
	}

	result, err := db.GetResult(ctx, dump_index, plugin_name)
	if err != nil {
		return err
	}

	plugin_record, err := db.GetPlugin(ctx, plugin_name)
	if err != nil {
		return err
	}

	// Every run starts from pending.
	if result.Status != models.StatusPending {
		err = models.CheckTransition(result.Status, models.StatusPending)
		if err != nil {
			return err
		}
		result.Status = models.StatusPending
		result.Updated = utils.GetTime().Now()
		err = db.SaveResult(ctx, result)
		if err != nil {
			return err
		}
	}

	self.logger.Debug("Runner: [dump %v - plugin %v] start", dump_index, plugin_name)

	outcome := self.execute(ctx, db, dump, plugin_record, params)

	err = models.CheckTransition(result.Status, outcome.status)
	if err != nil {
		return err
	}

	result.Status = outcome.status
	result.Description = outcome.description
	result.Updated = utils.GetTime().Now()
	err = db.SaveResult(ctx, result)
	if err != nil {
		return err
	}

	metricsPluginRuns.WithLabelValues(outcome.status.String()).Inc()
	self.logger.Info("Runner: [dump %v - plugin <green>%v</>] %v",
		dump_index, plugin_name, outcome.status)

	notifier, err := services.GetNotifier()
	if err != nil {
		self.logger.Debug("Runner: %v", err)
		return nil
	}

	err = notifier.Notify(ctx, dump_index, plugin_name, outcome.status)
	if err != nil {
		self.logger.Warn("Runner: unable to notify about %v on %v: %v",
			plugin_name, dump_index, err)
	}

	return nil
}

func (self *Runner) execute(ctx context.Context, db datastore.DataStore,
	dump *models.Dump, plugin_record *models.Plugin,
	params *ordereddict.Dict) runOutcome {

	plugin, err := plugins.Get(plugin_record.Name)
	if err != nil {
		return failed(err)
	}

	merged := plugins.MergeParameters(plugin.Requirements(), params)
	if (params == nil || params.Len() == 0) && plugin_record.LocalDump {
		merged.Set(constants.DUMP_PARAMETER, true)
	}

	err = plugins.CheckRequirements(plugin.Requirements(), merged)
	if err != nil {
		return classify(err)
	}

	capture := plugins.CaptureRequested(merged, plugin_record.LocalDump)

	exec := &plugins.ExecutionContext{
		DumpPath:    dump.Path,
		Parameters:  merged,
		Progress:    plugins.DiscardProgress,
		Files:       uploads.NullFileHandlerFactory,
		Capture:     capture,
		Parallelism: false,
		Logger:      self.logger,
	}

	var area *uploads.StagingArea
	if capture {
		area = uploads.NewStagingArea(paths.StagingDirectory(self.config_obj))
		defer area.Cleanup()
		exec.Files = area.Factory()
	}

	grid, err := runProtected(ctx, plugin, exec)
	if err != nil {
		return classify(err)
	}

	rows, render_errors := grid.Render()
	description := strings.Join(render_errors, "\n")

	if len(rows) == 0 {
		return runOutcome{status: models.StatusEmpty, description: description}
	}

	if area != nil && len(area.Staged()) > 0 {
		self.captureFiles(ctx, db, dump.Index, plugin_record, area.Staged())
	}

	indexer, err := services.GetIndexer()
	if err != nil {
		return failed(err)
	}

	index := paths.IndexName(dump.Index, plugin_record.Name)
	err = indexer.BulkIndex(ctx, index, rows)
	if err != nil {
		return runOutcome{status: models.StatusError, description: err.Error()}
	}

	self.logger.Debug("Runner: [dump %v - plugin %v] %v rows sent to %v",
		dump.Index, plugin_record.Name, humanize.Comma(int64(len(rows))), index)

	return runOutcome{status: models.StatusSuccess, description: description}
}

// Capture and enrichment failures never fail the run.
func (self *Runner) captureFiles(ctx context.Context, db datastore.DataStore,
	dump_index string, plugin_record *models.Plugin,
	staged []*uploads.StagedFile) {

	var scanner uploads.Scanner
	antivirus := services.GetAntivirusScanner()
	if antivirus != nil {
		scanner = antivirus
	}

	capture := uploads.NewCapture(self.config_obj, db, scanner, self.mirror)
	files, err := capture.Commit(ctx, dump_index, plugin_record, staged)
	if err != nil {
		self.logger.Error("Runner: [dump %v - plugin %v] capture failed: %v",
			dump_index, plugin_record.Name, err)
		return
	}

	if len(files) == 0 {
		return
	}

	filenames := make([]string, 0, len(files))
	for _, file := range files {
		filenames = append(filenames, file.Path)
	}

	if plugin_record.VtCheck {
		self.dispatcher.Dispatch(ctx, dump_index, plugin_record.Name,
			filenames, enrichment.ReputationLookup)
	}

	if plugin_record.RegipyCheck {
		self.dispatcher.Dispatch(ctx, dump_index, plugin_record.Name,
			filenames, enrichment.RegistryDecode)
	}
}

func runProtected(ctx context.Context, plugin plugins.Plugin,
	exec *plugins.ExecutionContext) (grid *plugins.TreeGrid, err error) {
	defer utils.RecoverError(&err)

	grid, err = plugin.Run(ctx, exec)
	if err == nil && grid == nil {
		grid = plugins.NewTreeGrid()
	}
	return grid, err
}

func classify(err error) runOutcome {
	var unsatisfied *plugins.UnsatisfiedError
	if errors.As(err, &unsatisfied) {
		return runOutcome{
			status:      models.StatusUnsatisfied,
			description: unsatisfied.Error(),
		}
	}
	return failed(err)
}

func failed(err error) runOutcome {
	return runOutcome{
		status:      models.StatusError,
		description: utils.ErrorTrace(err),
	}
}

func NewRunner(ctx context.Context,
	config_obj *config_proto.Config) (*Runner, error) {
	logger := logging.GetLogger(config_obj, &logging.RunnerComponent)

	result := &Runner{
		config_obj: config_obj,
		logger:     logger,
		dispatcher: enrichment.NewDispatcher(config_obj),
	}

	mirror, err := file_store.GetBlobStore(ctx, config_obj)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		result.mirror = mirror
	}

	return result, nil
}

func StartRunnerService(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	runner, err := NewRunner(ctx, config_obj)
	if err != nil {
		return err
	}

	runner.logger.Info("Starting <green>Plugin Runner</> with %v plugins",
		len(plugins.List()))
	services.RegisterRunner(runner)

	return nil
}
