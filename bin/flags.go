package main

import (
	"os"

	"github.com/Velocidex/sflags"
	"github.com/Velocidex/sflags/gen/gkingpin"
	"github.com/alecthomas/kingpin/v2"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

// Every config field gets a hidden --config.<section>.<field> flag.
// The returned config holds only the values given on the command line.
func registerConfigFlags(app *kingpin.Application) (
	*config_proto.Config, error) {
	flag_values := &config_proto.Config{
		Datastore:  &config_proto.DatastoreConfig{},
		Storage:    &config_proto.StorageConfig{},
		Elastic:    &config_proto.ElasticConfig{},
		Scheduler:  &config_proto.SchedulerConfig{},
		Antivirus:  &config_proto.AntivirusConfig{},
		Reputation: &config_proto.ReputationConfig{},
		Mirror:     &config_proto.MirrorConfig{},
		PubSub:     &config_proto.PubSubConfig{},
		Frontend:   &config_proto.FrontendConfig{},
		Logging:    &config_proto.LoggingConfig{},
		Plugins:    &config_proto.PluginsConfig{},
	}

	flags, err := sflags.ParseStruct(flag_values, sflags.Prefix("config."))
	if err != nil {
		return nil, err
	}

	// Hide all the flags unless debugging.
	if os.Getenv("DEBUG") == "" {
		for _, flag := range flags {
			flag.Hidden = true
		}
	}

	gkingpin.GenerateTo(flags, app)

	return flag_values, nil
}
