// Enriches captured files with a reputation report or a decoded
// registry hive. Each file is handled by its own scheduler task.
package enrichment

import (
	"context"
	"fmt"

	"github.com/Velocidex/ordereddict"
	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/services/hives"
	"www.velocidex.com/golang/memtriage/utils"
)

var (
	metricsOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtriage_enrichment_outcomes",
			Help: "Number of enriched files by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

type Kind int

const (
	ReputationLookup Kind = iota
	RegistryDecode
)

func (self Kind) String() string {
	switch self {
	case ReputationLookup:
		return "reputation"
	case RegistryDecode:
		return "registry"
	}
	return fmt.Sprintf("Kind(%d)", int(self))
}

// The report stored for a single file. A nil Report means the
// enrichment was unavailable. Err is only set when the report could
// not be stored.
type Outcome struct {
	Path   string
	Report *ordereddict.Dict
	Err    error
}

type Dispatcher struct {
	config_obj *config_proto.Config
	logger     *logging.LogContext
}

// Dispatch enriches every file and waits for all of them. The
// calling task gives up its scheduler slot while waiting. Outcomes
// are returned in the order of files.
func (self *Dispatcher) Dispatch(ctx context.Context,
	dump_index, plugin_name string,
	files []string, kind Kind) []Outcome {

	result := make([]Outcome, len(files))
	for idx, path := range files {
		result[idx].Path = path
	}

	if len(files) == 0 {
		return result
	}

	scheduler, err := services.GetScheduler()
	if err != nil {
		for idx := range result {
			result[idx].Err = err
		}
		return result
	}

	futures := make([]*services.Future, 0, len(files))
	positions := make([]int, 0, len(files))
	for idx, path := range files {
		future, err := scheduler.Submit(ctx, "",
			func(ctx context.Context) (interface{}, error) {
				return self.enrichFile(ctx, dump_index, plugin_name, path, kind)
			})
		if err != nil {
			result[idx].Err = err
			continue
		}
		futures = append(futures, future)
		positions = append(positions, idx)
	}

	gathered, err := services.GatherDetached(ctx, scheduler, futures)
	if err != nil {
		self.logger.Warn("Enrichment: unable to rejoin after %v: %v",
			kind, err)
	}

	for i, task_result := range gathered {
		idx := positions[i]
		if task_result.Err != nil {
			result[idx].Err = task_result.Err
			continue
		}
		report, _ := task_result.Result.(*ordereddict.Dict)
		result[idx].Report = report
	}

	return result
}

func (self *Dispatcher) enrichFile(ctx context.Context,
	dump_index, plugin_name, path string, kind Kind) (*ordereddict.Dict, error) {

	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return nil, err
	}

	file, err := db.GetExtractedFile(ctx, dump_index, plugin_name, path)
	if err != nil {
		return nil, err
	}

	var report *ordereddict.Dict

	switch kind {
	case ReputationLookup:
		report = self.lookupReputation(ctx, file)
		file.VT = report

	case RegistryDecode:
		report = self.decodeHive(ctx, file)
		file.Reg = report

	default:
		return nil, errors.Errorf("unknown enrichment %v", kind)
	}

	err = db.UpdateExtractedFile(ctx, file)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (self *Dispatcher) lookupReputation(
	ctx context.Context, file *models.ExtractedFile) *ordereddict.Dict {
	sha256 := file.Sha256
	if sha256 == "" {
		hash, err := utils.Sha256File(file.Path)
		if err != nil {
			self.logger.Warn("Enrichment: unable to hash %v: %v", file.Path, err)
			metricsOutcomes.WithLabelValues("reputation", "unavailable").Inc()
			return nil
		}
		sha256 = hash
	}

	reputation, err := services.GetReputationService()
	if err == nil {
		var report *ordereddict.Dict
		report, err = reputation.Lookup(ctx, sha256)
		if err == nil {
			metricsOutcomes.WithLabelValues("reputation", "ok").Inc()
			return report
		}
	}

	if errors.Is(err, services.ErrNotConfigured) ||
		errors.Is(err, utils.NotFoundError) {
		metricsOutcomes.WithLabelValues("reputation", "not_configured").Inc()
		return ordereddict.NewDict().
			Set("error", services.ErrNotConfigured.Error())
	}

	self.logger.Info("Enrichment: reputation unavailable for %v: %v",
		sha256, err)
	metricsOutcomes.WithLabelValues("reputation", "unavailable").Inc()
	return nil
}

func (self *Dispatcher) decodeHive(
	ctx context.Context, file *models.ExtractedFile) *ordereddict.Dict {
	report, err := hives.Decode(ctx, file.Path)
	if err != nil {
		self.logger.Error("Enrichment: unable to decode hive %v: %v",
			file.Path, err)
		metricsOutcomes.WithLabelValues("registry", "failed").Inc()
		return ordereddict.NewDict()
	}

	metricsOutcomes.WithLabelValues("registry", "ok").Inc()
	return report
}

func NewDispatcher(config_obj *config_proto.Config) *Dispatcher {
	return &Dispatcher{
		config_obj: config_obj,
		logger:     logging.GetLogger(config_obj, &logging.EnrichmentComponent),
	}
}
