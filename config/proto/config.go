// Package proto holds the configuration schema shared by all
// components. The schema is serialized as YAML.
package proto

type DatastoreConfig struct {
	// One of sqlite, mysql, postgres or memory.
	Implementation string `yaml:"implementation,omitempty" json:"implementation,omitempty"`

	// Path to the sqlite database file.
	Location string `yaml:"location,omitempty" json:"location,omitempty"`

	MysqlConnectionString    string `yaml:"mysql_connection_string,omitempty" json:"mysql_connection_string,omitempty"`
	PostgresConnectionString string `yaml:"postgres_connection_string,omitempty" json:"postgres_connection_string,omitempty"`

	MaxOpenConnections int `yaml:"max_open_connections,omitempty" json:"max_open_connections,omitempty"`
}

type StorageConfig struct {
	// Root of the media tree: <media_root>/<dump index>/<plugin>/...
	MediaRoot string `yaml:"media_root,omitempty" json:"media_root,omitempty"`

	// Staging area for files written by plugins before they are
	// committed.
	TempDirectory string `yaml:"temp_directory,omitempty" json:"temp_directory,omitempty"`
}

type ElasticConfig struct {
	// One of elastic, bleve or memory.
	Implementation string `yaml:"implementation,omitempty" json:"implementation,omitempty"`

	Addresses []string `yaml:"addresses,omitempty" json:"addresses,omitempty"`
	Username  string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string   `yaml:"password,omitempty" json:"password,omitempty"`
	APIKey    string   `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	MaxRetries        int  `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryBackoffMsec  int  `yaml:"retry_backoff_msec,omitempty" json:"retry_backoff_msec,omitempty"`
	RequestTimeoutSec int  `yaml:"request_timeout_sec,omitempty" json:"request_timeout_sec,omitempty"`
	DisableSSLVerify  bool `yaml:"disable_ssl_verify,omitempty" json:"disable_ssl_verify,omitempty"`

	// Used by the bleve implementation.
	BleveDirectory string `yaml:"bleve_directory,omitempty" json:"bleve_directory,omitempty"`
}

type SchedulerConfig struct {
	// Number of concurrent execution slots in the cluster.
	Slots int `yaml:"slots,omitempty" json:"slots,omitempty"`
}

type AntivirusConfig struct {
	// One of clamd, yara or empty to disable scanning.
	Implementation string `yaml:"implementation,omitempty" json:"implementation,omitempty"`

	ClamdSocket string `yaml:"clamd_socket,omitempty" json:"clamd_socket,omitempty"`
	YaraRules   string `yaml:"yara_rules,omitempty" json:"yara_rules,omitempty"`
	TimeoutSec  int    `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
}

type ReputationConfig struct {
	Url               string `yaml:"url,omitempty" json:"url,omitempty"`
	RequestsPerMinute int    `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	CacheTTLSec       int    `yaml:"cache_ttl_sec,omitempty" json:"cache_ttl_sec,omitempty"`
	MaxRetries        int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

type MirrorConfig struct {
	// A local directory mirror. Used when no bucket is set.
	Directory string `yaml:"directory,omitempty" json:"directory,omitempty"`

	Bucket            string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region            string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint          string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix            string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	CredentialsKey    string `yaml:"credentials_key,omitempty" json:"credentials_key,omitempty"`
	CredentialsSecret string `yaml:"credentials_secret,omitempty" json:"credentials_secret,omitempty"`
}

type PubSubConfig struct {
	Project         string `yaml:"project,omitempty" json:"project,omitempty"`
	Topic           string `yaml:"topic,omitempty" json:"topic,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
}

type FrontendConfig struct {
	BindAddress string `yaml:"bind_address,omitempty" json:"bind_address,omitempty"`
	BindPort    int    `yaml:"bind_port,omitempty" json:"bind_port,omitempty"`

	NotificationsPerSecond int `yaml:"notifications_per_second,omitempty" json:"notifications_per_second,omitempty"`
}

type LoggingConfig struct {
	OutputDirectory string `yaml:"output_directory,omitempty" json:"output_directory,omitempty"`
	Debug           bool   `yaml:"debug,omitempty" json:"debug,omitempty"`
	RotationHours   int    `yaml:"rotation_hours,omitempty" json:"rotation_hours,omitempty"`
	MaxAgeHours     int    `yaml:"max_age_hours,omitempty" json:"max_age_hours,omitempty"`
}

type PluginsConfig struct {
	// Directory of YAML plugin definitions.
	DefinitionsDirectory string `yaml:"definitions_directory,omitempty" json:"definitions_directory,omitempty"`
}

type Config struct {
	Datastore  *DatastoreConfig  `yaml:"Datastore,omitempty" json:"Datastore,omitempty"`
	Storage    *StorageConfig    `yaml:"Storage,omitempty" json:"Storage,omitempty"`
	Elastic    *ElasticConfig    `yaml:"Elastic,omitempty" json:"Elastic,omitempty"`
	Scheduler  *SchedulerConfig  `yaml:"Scheduler,omitempty" json:"Scheduler,omitempty"`
	Antivirus  *AntivirusConfig  `yaml:"Antivirus,omitempty" json:"Antivirus,omitempty"`
	Reputation *ReputationConfig `yaml:"Reputation,omitempty" json:"Reputation,omitempty"`
	Mirror     *MirrorConfig     `yaml:"Mirror,omitempty" json:"Mirror,omitempty"`
	PubSub     *PubSubConfig     `yaml:"PubSub,omitempty" json:"PubSub,omitempty"`
	Frontend   *FrontendConfig   `yaml:"Frontend,omitempty" json:"Frontend,omitempty"`
	Logging    *LoggingConfig    `yaml:"Logging,omitempty" json:"Logging,omitempty"`
	Plugins    *PluginsConfig    `yaml:"Plugins,omitempty" json:"Plugins,omitempty"`
}
