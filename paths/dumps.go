package paths

import (
	"path/filepath"
	"strings"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/utils"
)

// Calculate where the files belonging to a dump live in the media
// root and where its rows are indexed.
type DumpPathManager struct {
	root  string
	index string
}

// The directory holding everything captured for this dump.
func (self DumpPathManager) Path() string {
	return filepath.Join(self.root, self.index)
}

// Each plugin writes its captured files into its own directory. Re
// submitting the plugin removes this directory.
func (self DumpPathManager) PluginDirectory(plugin string) string {
	return filepath.Join(self.root, self.index, utils.SanitizeFilename(plugin))
}

// Where a captured file with the preferred name should be stored.
func (self DumpPathManager) ExtractedFile(plugin, name string) string {
	return filepath.Join(self.PluginDirectory(plugin),
		utils.SanitizeFilename(name))
}

func (self DumpPathManager) IndexName(plugin string) string {
	return IndexName(self.index, plugin)
}

// Matches every plugin index of this dump.
func (self DumpPathManager) IndexPattern() string {
	return self.index + "*"
}

func NewDumpPathManager(
	config_obj *config_proto.Config, index string) *DumpPathManager {
	return &DumpPathManager{
		root:  config_obj.Storage.MediaRoot,
		index: index,
	}
}

// Rows of a plugin run are indexed under <dump index>_<plugin>.
func IndexName(dump_index, plugin string) string {
	return dump_index + "_" + strings.ToLower(plugin)
}

// Staged files are written here before the capture pipeline moves
// them into the media root.
func StagingDirectory(config_obj *config_proto.Config) string {
	if config_obj.Storage.TempDirectory != "" {
		return config_obj.Storage.TempDirectory
	}
	return filepath.Join(config_obj.Storage.MediaRoot, "tmp")
}
