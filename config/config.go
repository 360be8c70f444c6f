package config

import (
	"os"
	"path/filepath"

	"github.com/Velocidex/yaml/v2"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

// Embed build time constants into here for reporting the version.
var (
	build_time  string
	commit_hash string
)

func GetVersion() (string, string) {
	return commit_hash, build_time
}

// Return the default configuration. Everything runs locally: a
// sqlite datastore and a bleve index under the working directory.
func GetDefaultConfig() *config_proto.Config {
	root := filepath.Join(os.TempDir(), "memtriage")

	return &config_proto.Config{
		Datastore: &config_proto.DatastoreConfig{
			Implementation:     "sqlite",
			Location:           filepath.Join(root, "memtriage.sqlite"),
			MaxOpenConnections: 10,
		},
		Storage: &config_proto.StorageConfig{
			MediaRoot:     filepath.Join(root, "media"),
			TempDirectory: os.TempDir(),
		},
		Elastic: &config_proto.ElasticConfig{
			Implementation:    "bleve",
			Addresses:         []string{"http://127.0.0.1:9200"},
			MaxRetries:        10,
			RetryBackoffMsec:  500,
			RequestTimeoutSec: 60,
			BleveDirectory:    filepath.Join(root, "index"),
		},
		Scheduler: &config_proto.SchedulerConfig{
			Slots: 4,
		},
		Antivirus: &config_proto.AntivirusConfig{
			ClamdSocket: "/var/run/clamav/clamd.ctl",
			TimeoutSec:  600,
		},
		Reputation: &config_proto.ReputationConfig{
			Url:               "https://www.virustotal.com/api/v3",
			RequestsPerMinute: 4,
			CacheTTLSec:       3600,
			MaxRetries:        3,
		},
		Frontend: &config_proto.FrontendConfig{
			BindAddress:            "127.0.0.1",
			BindPort:               8889,
			NotificationsPerSecond: 100,
		},
		Logging: &config_proto.LoggingConfig{},
		Plugins: &config_proto.PluginsConfig{},
	}
}

// Fill in any sections missing from a loaded config with their
// defaults.
func MergeDefaults(config_obj *config_proto.Config) {
	defaults := GetDefaultConfig()

	if config_obj.Datastore == nil {
		config_obj.Datastore = defaults.Datastore
	}
	if config_obj.Storage == nil {
		config_obj.Storage = defaults.Storage
	}
	if config_obj.Storage.TempDirectory == "" {
		config_obj.Storage.TempDirectory = defaults.Storage.TempDirectory
	}
	if config_obj.Elastic == nil {
		config_obj.Elastic = defaults.Elastic
	}
	if config_obj.Elastic.MaxRetries == 0 {
		config_obj.Elastic.MaxRetries = defaults.Elastic.MaxRetries
	}
	if config_obj.Elastic.RetryBackoffMsec == 0 {
		config_obj.Elastic.RetryBackoffMsec = defaults.Elastic.RetryBackoffMsec
	}
	if config_obj.Elastic.RequestTimeoutSec == 0 {
		config_obj.Elastic.RequestTimeoutSec = defaults.Elastic.RequestTimeoutSec
	}
	if config_obj.Scheduler == nil {
		config_obj.Scheduler = defaults.Scheduler
	}
	if config_obj.Scheduler.Slots <= 0 {
		config_obj.Scheduler.Slots = defaults.Scheduler.Slots
	}
	if config_obj.Antivirus == nil {
		config_obj.Antivirus = defaults.Antivirus
	}
	if config_obj.Reputation == nil {
		config_obj.Reputation = defaults.Reputation
	}
	if config_obj.Frontend == nil {
		config_obj.Frontend = defaults.Frontend
	}
	if config_obj.Logging == nil {
		config_obj.Logging = defaults.Logging
	}
	if config_obj.Plugins == nil {
		config_obj.Plugins = defaults.Plugins
	}
}

func ValidateDatastoreConfig(config_obj *config_proto.Config) error {
	switch config_obj.Datastore.Implementation {
	case "sqlite":
		if config_obj.Datastore.Location == "" {
			return errors.New("Datastore.location is required for sqlite")
		}
	case "mysql":
		if config_obj.Datastore.MysqlConnectionString == "" {
			return errors.New("Datastore.mysql_connection_string is required")
		}
	case "postgres":
		if config_obj.Datastore.PostgresConnectionString == "" {
			return errors.New("Datastore.postgres_connection_string is required")
		}
	case "memory":
	default:
		return errors.Errorf("Unknown datastore implementation %v",
			config_obj.Datastore.Implementation)
	}
	return nil
}

func ValidateStorageConfig(config_obj *config_proto.Config) error {
	if config_obj.Storage.MediaRoot == "" {
		return errors.New("Storage.media_root is required")
	}
	return nil
}

func ValidateElasticConfig(config_obj *config_proto.Config) error {
	switch config_obj.Elastic.Implementation {
	case "elastic":
		if len(config_obj.Elastic.Addresses) == 0 {
			return errors.New("Elastic.addresses is required")
		}
	case "bleve":
		if config_obj.Elastic.BleveDirectory == "" {
			return errors.New("Elastic.bleve_directory is required")
		}
	case "memory":
	default:
		return errors.Errorf("Unknown index implementation %v",
			config_obj.Elastic.Implementation)
	}
	return nil
}

func ValidateAntivirusConfig(config_obj *config_proto.Config) error {
	switch config_obj.Antivirus.Implementation {
	case "":
	case "clamd":
		if config_obj.Antivirus.ClamdSocket == "" {
			return errors.New("Antivirus.clamd_socket is required")
		}
	case "yara":
		if config_obj.Antivirus.YaraRules == "" {
			return errors.New("Antivirus.yara_rules is required")
		}
	default:
		return errors.Errorf("Unknown antivirus implementation %v",
			config_obj.Antivirus.Implementation)
	}
	return nil
}

func ParseConfig(data []byte) (*config_proto.Config, error) {
	result := &config_proto.Config{}
	err := yaml.UnmarshalStrict(data, result)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return result, nil
}

func read_config_from_file(filename string) (*config_proto.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return ParseConfig(data)
}
