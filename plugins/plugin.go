// Plugins are opaque analysis procedures run against a memory dump.
//
// A plugin declares which operating system it applies to, the
// parameters it accepts and a set of feature flags which tell the
// runner what to do with its output. The runner never looks inside
// the plugin: it builds an ExecutionContext carrying the injected
// progress and file interception strategies and calls Run().
package plugins

import (
	"context"
	"io"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memtriage/logging"
)

type Flags struct {
	// The plugin can write files extracted from the dump.
	LocalDump bool `json:"local_dump" yaml:"local_dump"`

	// Scan extracted files with the antivirus service.
	ClamavCheck bool `json:"clamav_check" yaml:"clamav_check"`

	// Look up extracted files with the reputation service.
	VtCheck bool `json:"vt_check" yaml:"vt_check"`

	// Extracted files are registry hives and should be decoded.
	RegipyCheck bool `json:"regipy_check" yaml:"regipy_check"`
}

type RequirementType string

const (
	RequirementScalar RequirementType = "scalar"
	RequirementInt    RequirementType = "int"
	RequirementBool   RequirementType = "bool"
	RequirementList   RequirementType = "list"
	RequirementChoice RequirementType = "choice"
	RequirementFile   RequirementType = "file"
)

// A declared parameter of a plugin.
type Requirement struct {
	Name        string          `json:"name" yaml:"name"`
	Type        RequirementType `json:"type" yaml:"type"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Optional    bool            `json:"optional" yaml:"optional"`
	Default     interface{}     `json:"default,omitempty" yaml:"default"`

	// Element type of a list requirement (scalar or int).
	ElementType RequirementType `json:"element_type,omitempty" yaml:"element_type"`

	// Valid values for a choice requirement.
	Choices []string `json:"choices,omitempty" yaml:"choices"`
}

// Receives progress updates from a plugin. Orchestrated runs discard
// these.
type ProgressFunc func(percent float64, description string)

func DiscardProgress(percent float64, description string) {}

// A plugin writes each file it extracts into a FileHandler. The
// handler decides if the bytes are kept.
type FileHandler interface {
	io.WriteCloser
	PreferredFilename() string
}

type FileHandlerFactory func(preferred_filename string) (FileHandler, error)

type ExecutionContext struct {
	// Path of the memory image being analysed.
	DumpPath string

	// Parameters after merging explicit values over the declared
	// defaults.
	Parameters *ordereddict.Dict

	Progress ProgressFunc
	Files    FileHandlerFactory

	// Set when the files the plugin writes through Files are kept.
	Capture bool

	// When false the plugin must not fan out work of its own. The
	// cluster already parallelizes across plugins.
	Parallelism bool

	Logger *logging.LogContext
}

type Plugin interface {
	Name() string
	OS() string
	Description() string
	Flags() Flags
	Requirements() []Requirement
	Run(ctx context.Context, exec *ExecutionContext) (*TreeGrid, error)
}
