package vtesting

import (
	"path/filepath"
	"testing"

	"www.velocidex.com/golang/memtriage/config"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

// A config which keeps everything in memory or under a per test
// temporary directory.
func GetTestConfig(t *testing.T) *config_proto.Config {
	tmpdir := t.TempDir()

	config_obj := config.GetDefaultConfig()
	config_obj.Datastore.Implementation = "memory"
	config_obj.Elastic.Implementation = "memory"
	config_obj.Elastic.RetryBackoffMsec = 1
	config_obj.Storage.MediaRoot = filepath.Join(tmpdir, "media")
	config_obj.Storage.TempDirectory = filepath.Join(tmpdir, "tmp")
	config_obj.Scheduler.Slots = 2

	return config_obj
}
