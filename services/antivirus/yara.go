//go:build cgo && yara
// +build cgo,yara

package antivirus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	yara "github.com/Velocidex/go-yara"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

// Scans captured files with a local yara rule set. The first
// matching rule is reported as the signature.
type YaraScanner struct {
	rules   *yara.Rules
	timeout time.Duration
}

type yaraReporter struct {
	matches []string
}

func (self *yaraReporter) RuleMatching(rule *yara.Rule) (bool, error) {
	self.matches = append(self.matches, rule.Identifier())
	return true, nil
}

func (self *YaraScanner) ScanDirectory(
	ctx context.Context, path string) (map[string]string, error) {
	result := make(map[string]string)
	failures := []string{}

	err := filepath.WalkDir(path, func(
		filename string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			return nil
		}

		reporter := &yaraReporter{}
		err = self.rules.ScanFileWithCallback(
			filename, yara.ScanFlags(0), self.timeout, reporter)
		if err != nil {
			failures = append(failures, filename+": "+err.Error())
			return nil
		}

		if len(reporter.matches) > 0 {
			result[filename] = reporter.matches[0]
		}
		return nil
	})
	if err != nil {
		return result, errors.Wrap(err, 0)
	}

	if len(failures) > 0 {
		return result, errors.Errorf("yara: %v", strings.Join(failures, "; "))
	}
	return result, nil
}

func NewYaraScanner(config_obj *config_proto.AntivirusConfig) (*YaraScanner, error) {
	data, err := os.ReadFile(config_obj.YaraRules)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	rules, err := yara.Compile(string(data), nil)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	timeout := time.Duration(config_obj.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &YaraScanner{rules: rules, timeout: timeout}, nil
}
