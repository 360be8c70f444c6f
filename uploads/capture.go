package uploads

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/paths"
	"www.velocidex.com/golang/memtriage/utils"
	"www.velocidex.com/golang/memtriage/utils/tempfile"
)

// Scans a whole directory and returns the verdict for each infected
// file keyed by path.
type Scanner interface {
	ScanDirectory(ctx context.Context, path string) (map[string]string, error)
}

// Keeps a copy of a captured file keyed by its content hash.
type Mirror interface {
	Store(ctx context.Context, sha256, path string) error
}

type Capture struct {
	config_obj *config_proto.Config
	db         datastore.DataStore
	scanner    Scanner
	mirror     Mirror
}

// Commit moves the staged files into the plugin's directory under the
// media root, hashes them, scans the directory if the plugin asks
// for it and records all the files in one transaction. A file which
// fails to be committed is logged and left out.
func (self *Capture) Commit(
	ctx context.Context, dump_index string, plugin *models.Plugin,
	staged []*StagedFile) ([]*models.ExtractedFile, error) {
	logger := logging.GetLogger(self.config_obj, &logging.RunnerComponent)

	path_manager := paths.NewDumpPathManager(self.config_obj, dump_index)
	directory := path_manager.PluginDirectory(plugin.Name)
	err := os.MkdirAll(directory, 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	records := make([]*models.ExtractedFile, 0, len(staged))
	used := make(map[string]bool)
	var total uint64

	for _, file := range staged {
		dest := uniqueName(used,
			path_manager.ExtractedFile(plugin.Name, file.PreferredName))

		err := utils.MoveFile(ctx, file.TempPath, dest, 0600)
		tempfile.RemoveTmpFile(file.TempPath, err)
		if err != nil {
			logger.Error("Capture: unable to store %v for %v: %v",
				file.PreferredName, plugin.Name, err)
			os.Remove(file.TempPath)
			continue
		}

		sha256, err := utils.Sha256File(dest)
		if err != nil {
			logger.Error("Capture: unable to hash %v: %v", dest, err)
			os.Remove(dest)
			continue
		}

		records = append(records, &models.ExtractedFile{
			Dump:   dump_index,
			Plugin: plugin.Name,
			Path:   dest,
			Sha256: sha256,
			Tlsh:   utils.TlshFile(dest),
		})
		total += uint64(file.Size)
	}

	if len(records) == 0 {
		return nil, nil
	}

	if plugin.ClamavCheck && self.scanner != nil {
		verdicts, err := self.scanner.ScanDirectory(ctx, directory)
		if err != nil {
			logger.Warn("Capture: scanning %v failed: %v", directory, err)
		}
		for _, record := range records {
			verdict, pres := verdicts[record.Path]
			if pres {
				record.ClamAV = verdict
			}
		}
	}

	created, err := self.db.BulkCreateExtractedFiles(ctx, records)
	if err != nil {
		return nil, err
	}

	logger.Info("Capture: <green>%v</> stored %v files (%v) for dump %v",
		plugin.Name, len(created), humanize.Bytes(total), dump_index)

	if self.mirror != nil {
		for _, record := range created {
			err := self.mirror.Store(ctx, record.Sha256, record.Path)
			if err != nil {
				logger.Warn("Capture: mirroring %v failed: %v", record.Path, err)
			}
		}
	}

	return created, nil
}

// Two staged files with the same preferred name do not overwrite
// each other.
func uniqueName(used map[string]bool, path string) string {
	result := path
	for i := 1; used[result]; i++ {
		ext := ""
		base := path
		idx := strings.LastIndex(path, ".")
		if idx > strings.LastIndex(path, string(os.PathSeparator)) {
			base, ext = path[:idx], path[idx:]
		}
		result = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	used[result] = true
	return result
}

func NewCapture(config_obj *config_proto.Config,
	db datastore.DataStore, scanner Scanner, mirror Mirror) *Capture {
	return &Capture{
		config_obj: config_obj,
		db:         db,
		scanner:    scanner,
		mirror:     mirror,
	}
}
