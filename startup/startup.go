// A utility to start up all essential services.

package startup

import (
	"context"
	"sync"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/server"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/services/antivirus"
	"www.velocidex.com/golang/memtriage/services/indexing"
	"www.velocidex.com/golang/memtriage/services/notifications"
	"www.velocidex.com/golang/memtriage/services/orchestrator"
	"www.velocidex.com/golang/memtriage/services/reputation"
	"www.velocidex.com/golang/memtriage/services/runner"
	"www.velocidex.com/golang/memtriage/services/scheduler"

	// Builtin plugins
	_ "www.velocidex.com/golang/memtriage/plugins/banners"
)

// The datastore is opened on first use. Close it when the services
// exit.
func startDatastore(ctx context.Context, wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {
	_, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		datastore.CloseDB(config_obj)
	}()

	return nil
}

// Start the services in dependency order: the orchestrator needs
// the runner which needs everything else.
func StartupEssentialServices(sm *services.Service) error {
	return sm.StartAll(
		startDatastore,
		scheduler.StartSchedulerService,
		indexing.StartIndexingService,
		antivirus.StartAntivirusService,
		reputation.StartReputationService,
		notifications.StartNotificationService,
		runner.StartRunnerService,
		orchestrator.StartOrchestratorService,
		StartPluginSync,
	)
}

// Start all the services needed by command line tools.
func StartToolServices(
	ctx context.Context,
	config_obj *config_proto.Config) (*services.Service, error) {

	sm := services.NewServiceManager(ctx, config_obj)
	return sm, StartupEssentialServices(sm)
}

// Start the essential services and the HTTP frontend.
func StartFrontendServices(
	ctx context.Context,
	config_obj *config_proto.Config) (*services.Service, error) {

	sm := services.NewServiceManager(ctx, config_obj)
	err := StartupEssentialServices(sm)
	if err != nil {
		return sm, err
	}

	return sm, sm.Start(server.StartFrontendServer)
}
