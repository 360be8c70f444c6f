package services

import (
	"context"
	"sync"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memtriage/models"
)

var (
	launcher_mu    sync.Mutex
	g_runner       Runner
	g_orchestrator Orchestrator
)

func GetRunner() (Runner, error) {
	launcher_mu.Lock()
	defer launcher_mu.Unlock()

	if g_runner == nil {
		return nil, notReady("Runner")
	}
	return g_runner, nil
}

func RegisterRunner(r Runner) {
	launcher_mu.Lock()
	defer launcher_mu.Unlock()

	g_runner = r
}

func GetOrchestrator() (Orchestrator, error) {
	launcher_mu.Lock()
	defer launcher_mu.Unlock()

	if g_orchestrator == nil {
		return nil, notReady("Orchestrator")
	}
	return g_orchestrator, nil
}

func RegisterOrchestrator(o Orchestrator) {
	launcher_mu.Lock()
	defer launcher_mu.Unlock()

	g_orchestrator = o
}

// Runs a single plugin against a single dump.
type Runner interface {
	// The outcome is recorded in the plugin's result. The returned
	// error only reports a failure to record it.
	RunPlugin(ctx context.Context,
		dump_index, plugin_name string, params *ordereddict.Dict) error
}

type ResubmitRequest struct {
	DumpIndex string
	Plugin    string

	// Raw form values keyed by parameter name.
	Values map[string]string

	// Uploaded files keyed by parameter name. The value is the path
	// of the uploaded file on disk which is moved into the dump's
	// media directory.
	Files map[string]string
}

// Drives the analysis of whole dumps.
type Orchestrator interface {
	CreateDump(ctx context.Context,
		principal, name, operating_system, path string) (*models.Dump, error)

	// Run every applicable plugin on the dump and wait for them.
	RunBatch(ctx context.Context, dump_index string) error

	// Wait for the batch CreateDump started in the background.
	Wait(ctx context.Context, dump_index string) error

	DeleteDump(ctx context.Context, dump_index string) error

	// Discard a plugin's previous results and run it again in the
	// background.
	Resubmit(ctx context.Context, request *ResubmitRequest) error
}
