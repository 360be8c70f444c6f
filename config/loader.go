package config

import (
	"fmt"
	"os"

	"github.com/Velocidex/yaml/v2"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/logging"
)

// Stops the loader instead of falling through to the next source.
type HardError struct {
	Err error
}

func (self HardError) Error() string {
	return self.Err.Error()
}

func (self HardError) Unwrap() error {
	return self.Err
}

type source struct {
	name string
	load func(self *Loader) (*config_proto.Config, error)
}

type validator struct {
	name  string
	check func(self *Loader, config_obj *config_proto.Config) error
}

// A Loader tries each source in turn. The first config which loads is
// completed with the defaults, then passed through every validator.
//
//	config_obj, err := new(Loader).
//	    WithFileLoader(path).
//	    WithDefaultLoader().
//	    LoadAndValidate()
type Loader struct {
	verbose bool

	sources    []source
	validators []validator

	logger *logging.LogContext
}

// Each With* method returns a modified copy.
func (self *Loader) with(cb func(self *Loader)) *Loader {
	result := &Loader{
		verbose:    self.verbose,
		logger:     self.logger,
		sources:    append([]source{}, self.sources...),
		validators: append([]validator{}, self.validators...),
	}
	cb(result)
	return result
}

func (self *Loader) addSource(name string,
	load func(self *Loader) (*config_proto.Config, error)) *Loader {
	return self.with(func(self *Loader) {
		self.sources = append(self.sources, source{name: name, load: load})
	})
}

func (self *Loader) addValidator(name string,
	check func(self *Loader, config_obj *config_proto.Config) error) *Loader {
	return self.with(func(self *Loader) {
		self.validators = append(self.validators,
			validator{name: name, check: check})
	})
}

func (self *Loader) WithVerbose(verbose bool) *Loader {
	return self.with(func(self *Loader) {
		self.verbose = verbose
	})
}

func (self *Loader) WithLogFile(filename string) *Loader {
	if filename == "" {
		return self
	}

	return self.addValidator("log file", func(
		self *Loader, config_obj *config_proto.Config) error {
		err := logging.AddLogFile(filename)
		if err != nil {
			return HardError{err}
		}
		return nil
	})
}

func (self *Loader) WithTempdir(tmpdir string) *Loader {
	if tmpdir == "" {
		return self
	}

	return self.addValidator("tempdir", func(
		self *Loader, config_obj *config_proto.Config) error {
		err := os.MkdirAll(tmpdir, 0700)
		if err != nil {
			return fmt.Errorf("Unable to create temp directory %v: %w",
				tmpdir, err)
		}
		config_obj.Storage.TempDirectory = tmpdir
		self.Log("Temp files go to <green>%v", tmpdir)
		return nil
	})
}

// Only the fields set in overrides replace loaded values.
func (self *Loader) WithOverrides(overrides *config_proto.Config) *Loader {
	if overrides == nil {
		return self
	}

	return self.addValidator("overrides", func(
		self *Loader, config_obj *config_proto.Config) error {
		serialized, err := json.Marshal(overrides)
		if err != nil {
			return err
		}
		return json.Unmarshal(serialized, config_obj)
	})
}

func (self *Loader) WithPluginDefinitions(directory string) *Loader {
	if directory == "" {
		return self
	}

	return self.addValidator("plugin definitions", func(
		self *Loader, config_obj *config_proto.Config) error {
		config_obj.Plugins.DefinitionsDirectory = directory
		return nil
	})
}

func (self *Loader) WithCustomValidator(
	name string, check func(config_obj *config_proto.Config) error) *Loader {
	return self.addValidator(name, func(
		self *Loader, config_obj *config_proto.Config) error {
		return check(config_obj)
	})
}

func (self *Loader) WithDefaultLoader() *Loader {
	return self.addSource("defaults", func(
		self *Loader) (*config_proto.Config, error) {
		self.Log("No config file given, using the defaults")
		return GetDefaultConfig(), nil
	})
}

// A named file which can not be read is fatal: the defaults would
// silently point somewhere else.
func (self *Loader) WithFileLoader(filename string) *Loader {
	if filename == "" {
		return self
	}

	return self.addSource("file", func(
		self *Loader) (*config_proto.Config, error) {
		self.Log("Loading config from <green>%v", filename)
		result, err := read_config_from_file(filename)
		if err != nil {
			return nil, HardError{err}
		}
		return result, nil
	})
}

func (self *Loader) WithLiteralLoader(serialized []byte) *Loader {
	if len(serialized) == 0 {
		return self
	}

	return self.addSource("literal", func(
		self *Loader) (*config_proto.Config, error) {
		result := &config_proto.Config{}
		err := yaml.UnmarshalStrict(serialized, result)
		if err != nil {
			return nil, HardError{errors.Wrap(err, 0)}
		}
		return result, nil
	})
}

func (self *Loader) Log(format string, v ...interface{}) {
	if self.logger != nil {
		self.logger.Info(format, v...)
		return
	}
	logging.Prelog(format, v...)
}

func (self *Loader) Validate(config_obj *config_proto.Config) error {
	logging.Reset()
	logging.SuppressLogging = !self.verbose

	MergeDefaults(config_obj)
	self.logger = logging.GetLogger(config_obj, &logging.ToolComponent)

	for _, v := range self.validators {
		err := v.check(self, config_obj)
		if err != nil {
			self.Log("Config %v: %v", v.name, err)
			return err
		}
	}

	for _, check := range []func(*config_proto.Config) error{
		ValidateDatastoreConfig,
		ValidateStorageConfig,
		ValidateElasticConfig,
		ValidateAntivirusConfig,
	} {
		err := check(config_obj)
		if err != nil {
			return err
		}
	}

	return nil
}

func (self *Loader) LoadAndValidate() (*config_proto.Config, error) {
	for _, s := range self.sources {
		result, err := s.load(self)
		if err != nil {
			_, hard := err.(HardError)
			if hard {
				return nil, err
			}
			self.Log("Config source %v: %v", s.name, err)
			continue
		}

		return result, self.Validate(result)
	}
	return nil, errors.New("Unable to load config from any source.")
}
