package startup

import (
	"context"
	"errors"
	"sync"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/utils"
)

// Load external plugin definitions and make sure every registered
// plugin has a stored record. Existing records keep the flags an
// administrator may have changed.
func SyncPlugins(ctx context.Context, config_obj *config_proto.Config) error {
	logger := logging.GetLogger(config_obj, &logging.GenericComponent)

	if config_obj.Plugins != nil &&
		config_obj.Plugins.DefinitionsDirectory != "" {
		loaded, err := plugins.LoadDefinitions(
			config_obj.Plugins.DefinitionsDirectory)
		if err != nil {
			return err
		}
		logger.Info("Loaded %v plugin definitions from %v", len(loaded),
			config_obj.Plugins.DefinitionsDirectory)
	}

	db, err := datastore.GetDB(config_obj)
	if err != nil {
		return err
	}

	added := 0
	for _, plugin := range plugins.List() {
		_, err := db.GetPlugin(ctx, plugin.Name())
		if err == nil {
			continue
		}

		if !errors.Is(err, utils.NotFoundError) {
			return err
		}

		flags := plugin.Flags()
		err = db.SetPlugin(ctx, &models.Plugin{
			Name:        plugin.Name(),
			OS:          plugin.OS(),
			Description: plugin.Description(),
			LocalDump:   flags.LocalDump,
			ClamavCheck: flags.ClamavCheck,
			VtCheck:     flags.VtCheck,
			RegipyCheck: flags.RegipyCheck,
		})
		if err != nil {
			return err
		}
		added++
	}

	if added > 0 {
		logger.Info("Sync Plugin done: <green>%v</> new plugins", added)
	}
	return nil
}

func StartPluginSync(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {
	return SyncPlugins(ctx, config_obj)
}
