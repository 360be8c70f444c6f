package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"www.velocidex.com/golang/memtriage/config"
)

func TestDumpPathManager(t *testing.T) {
	config_obj := config.GetDefaultConfig()
	config_obj.Storage.MediaRoot = "/media"

	manager := NewDumpPathManager(config_obj, "0b6e2c6e")
	assert.Equal(t, "/media/0b6e2c6e", manager.Path())
	assert.Equal(t, "/media/0b6e2c6e/windows.dumpfiles.DumpFiles",
		manager.PluginDirectory("windows.dumpfiles.DumpFiles"))
	assert.Equal(t, "/media/0b6e2c6e/windows.dumpfiles.DumpFiles/passwd",
		manager.ExtractedFile("windows.dumpfiles.DumpFiles", "../../etc/passwd"))
	assert.Equal(t, "0b6e2c6e_windows.dumpfiles.dumpfiles",
		manager.IndexName("windows.dumpfiles.DumpFiles"))
	assert.Equal(t, "0b6e2c6e*", manager.IndexPattern())
}
