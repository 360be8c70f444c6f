//go:build !cgo || !yara
// +build !cgo !yara

package antivirus

import (
	"context"

	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

type YaraScanner struct{}

func (self *YaraScanner) ScanDirectory(
	ctx context.Context, path string) (map[string]string, error) {
	return nil, errors.New("yara support is not compiled in")
}

func NewYaraScanner(config_obj *config_proto.AntivirusConfig) (*YaraScanner, error) {
	return nil, errors.New(
		"yara support is not compiled in: rebuild with the yara tag")
}
