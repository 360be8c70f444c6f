// Scan captured files for malware.
package antivirus

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/services"
)

func NewScanner(config_obj *config_proto.Config) (services.AntivirusScanner, error) {
	switch config_obj.Antivirus.Implementation {
	case "":
		return nil, nil

	case "clamd":
		return NewClamdScanner(config_obj.Antivirus), nil

	case "yara":
		scanner, err := NewYaraScanner(config_obj.Antivirus)
		if err != nil {
			return nil, err
		}
		return scanner, nil

	default:
		return nil, errors.Errorf("Unknown antivirus implementation %v",
			config_obj.Antivirus.Implementation)
	}
}

func StartAntivirusService(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	scanner, err := NewScanner(config_obj)
	if err != nil {
		return err
	}

	logger := logging.GetLogger(config_obj, &logging.EnrichmentComponent)
	if scanner == nil {
		logger.Info("No antivirus configured: captured files will not be scanned")
		return nil
	}

	// The daemon may start after us so only warn.
	clamd, ok := scanner.(*ClamdScanner)
	if ok {
		err := clamd.Ping(ctx)
		if err != nil {
			logger.Warn("Unable to reach clamd at %v: %v",
				config_obj.Antivirus.ClamdSocket, err)
		}
	}

	logger.Info("Starting <green>Antivirus Service</> (%v)",
		config_obj.Antivirus.Implementation)
	services.RegisterAntivirusScanner(scanner)

	return nil
}
