package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/Velocidex/yaml/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-errors/errors"
	"github.com/google/shlex"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/utils"
)

// An external analysis tool described in YAML. The tool is expected
// to emit its rows as JSON (an array or one object per line) on
// stdout.
//
//	name: windows.pslist.PsList
//	os: Windows
//	command: vol -q -r json -f {dump} windows.pslist.PsList
//	output_dir_flag: -o
//	unsatisfied_pattern: "Unsatisfied requirement"
//	flags:
//	  local_dump: true
//	parameters:
//	  - name: pid
//	    type: list
//	    element_type: int
//	    optional: true
type CommandDefinition struct {
	Name               string        `yaml:"name"`
	OS                 string        `yaml:"os"`
	Description        string        `yaml:"description"`
	Command            string        `yaml:"command"`
	OutputDirFlag      string        `yaml:"output_dir_flag"`
	UnsatisfiedPattern string        `yaml:"unsatisfied_pattern"`
	Flags              Flags         `yaml:"flags"`
	Parameters         []Requirement `yaml:"parameters"`
}

type CommandPlugin struct {
	definition  *CommandDefinition
	argv        []string
	unsatisfied *regexp.Regexp
}

func (self *CommandPlugin) Name() string {
	return self.definition.Name
}

func (self *CommandPlugin) OS() string {
	if self.definition.OS == "" {
		return constants.OS_OTHER
	}
	return self.definition.OS
}

func (self *CommandPlugin) Description() string {
	return self.definition.Description
}

func (self *CommandPlugin) Flags() Flags {
	return self.definition.Flags
}

func (self *CommandPlugin) Requirements() []Requirement {
	return self.definition.Parameters
}

func (self *CommandPlugin) Run(
	ctx context.Context, exec_ctx *ExecutionContext) (*TreeGrid, error) {
	argv := make([]string, 0, len(self.argv))
	for _, arg := range self.argv {
		argv = append(argv, strings.ReplaceAll(arg, "{dump}", exec_ctx.DumpPath))
	}
	argv = append(argv, self.parameterArgs(exec_ctx.Parameters)...)

	capture := exec_ctx.Files != nil && self.definition.Flags.LocalDump &&
		self.definition.OutputDirFlag != "" && exec_ctx.Capture

	var output_dir string
	if capture {
		var err error
		output_dir, err = os.MkdirTemp("", "memtriage_out_")
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		defer os.RemoveAll(output_dir)

		argv = append(argv, self.definition.OutputDirFlag, output_dir)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Stdout = stdout
	command.Stderr = stderr

	if exec_ctx.Logger != nil {
		exec_ctx.Logger.Debug("Running %v: %v", self.Name(), strings.Join(argv, " "))
	}

	err := command.Run()
	if err != nil {
		unmet := self.unsatisfiedFrom(stderr.String())
		if unmet != nil {
			return nil, unmet
		}
		return nil, errors.Errorf("%v: %v: %v", self.Name(), err,
			strings.TrimSpace(stderr.String()))
	}

	rows, err := utils.ParseJsonToDicts(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	if exec_ctx.Logger != nil {
		exec_ctx.Logger.Debug("%v produced %v rows (%v)", self.Name(),
			len(rows), humanize.Bytes(uint64(stdout.Len())))
	}

	if capture {
		err = stageOutputDirectory(output_dir, exec_ctx.Files)
		if err != nil {
			return nil, err
		}
	}

	return GridFromRows(rows), nil
}

func (self *CommandPlugin) parameterArgs(params *ordereddict.Dict) []string {
	result := []string{}
	if params == nil {
		return result
	}

	for _, req := range self.definition.Parameters {
		value, pres := params.Get(req.Name)
		if !pres || value == nil {
			continue
		}
		flag := "--" + req.Name

		switch t := value.(type) {
		case bool:
			if t {
				result = append(result, flag)
			}

		case []interface{}:
			if len(t) == 0 {
				continue
			}
			result = append(result, flag)
			for _, item := range t {
				result = append(result, fmt.Sprintf("%v", item))
			}

		case []string:
			if len(t) == 0 {
				continue
			}
			result = append(result, flag)
			result = append(result, t...)

		case string:
			if req.Type == RequirementFile {
				t = strings.TrimPrefix(t, constants.FILE_PARAMETER_PREFIX)
			}
			result = append(result, flag, t)

		default:
			result = append(result, flag, fmt.Sprintf("%v", t))
		}
	}
	return result
}

func (self *CommandPlugin) unsatisfiedFrom(stderr string) error {
	if self.unsatisfied == nil {
		return nil
	}

	result := &UnsatisfiedError{}
	for _, line := range strings.Split(stderr, "\n") {
		if self.unsatisfied.MatchString(line) {
			result.Add(self.Name(), "%s", strings.TrimSpace(line))
		}
	}
	if len(result.Unmet) == 0 {
		return nil
	}
	return result
}

// Hand every file the tool wrote to the file handler.
func stageOutputDirectory(directory string, factory FileHandlerFactory) error {
	return filepath.Walk(directory,
		func(path string, info os.FileInfo, err error) error {
			if err != nil || !info.Mode().IsRegular() {
				return err
			}

			fd, err := os.Open(path)
			if err != nil {
				return errors.Wrap(err, 0)
			}
			defer fd.Close()

			handler, err := factory(info.Name())
			if err != nil {
				return err
			}

			_, err = io.Copy(handler, fd)
			if err != nil {
				handler.Close()
				return errors.Wrap(err, 0)
			}
			return handler.Close()
		})
}

// Build a grid from JSON rows. Columns are the union of the row keys
// in order of first appearance. Nested rows under the children key
// become child nodes.
func GridFromRows(rows []*ordereddict.Dict) *TreeGrid {
	grid := &TreeGrid{}
	seen := make(map[string]int)

	var collect func(rows []*ordereddict.Dict)
	collect = func(rows []*ordereddict.Dict) {
		for _, row := range rows {
			for _, k := range row.Keys() {
				if isChildrenKey(k) {
					v, _ := row.Get(k)
					collect(childRows(v))
					continue
				}
				_, pres := seen[k]
				if !pres {
					seen[k] = len(grid.Columns)
					grid.Columns = append(grid.Columns, Column{Name: k})
				}
			}
		}
	}
	collect(rows)

	var add func(parent *TreeNode, rows []*ordereddict.Dict)
	add = func(parent *TreeNode, rows []*ordereddict.Dict) {
		for _, row := range rows {
			values := make([]interface{}, len(grid.Columns))
			var children []*ordereddict.Dict
			for _, k := range row.Keys() {
				v, _ := row.Get(k)
				if isChildrenKey(k) {
					children = append(children, childRows(v)...)
					continue
				}
				values[seen[k]] = v
			}
			node := grid.AddRow(parent, values...)
			add(node, children)
		}
	}
	add(nil, rows)

	return grid
}

func isChildrenKey(k string) bool {
	return k == constants.CHILDREN_KEY || k == "__children"
}

func childRows(value interface{}) []*ordereddict.Dict {
	result := []*ordereddict.Dict{}

	items, ok := value.([]interface{})
	if !ok {
		return result
	}

	for _, item := range items {
		switch t := item.(type) {
		case *ordereddict.Dict:
			result = append(result, t)
		case map[string]interface{}:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			row := ordereddict.NewDict()
			for _, k := range keys {
				row.Set(k, t[k])
			}
			result = append(result, row)
		}
	}
	return result
}

func NewCommandPlugin(definition *CommandDefinition) (*CommandPlugin, error) {
	if definition.Name == "" {
		return nil, errors.New("plugin definition has no name")
	}

	argv, err := shlex.Split(definition.Command)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if len(argv) == 0 {
		return nil, errors.Errorf("plugin %v: command is empty", definition.Name)
	}

	result := &CommandPlugin{
		definition: definition,
		argv:       argv,
	}

	if definition.UnsatisfiedPattern != "" {
		result.unsatisfied, err = regexp.Compile(definition.UnsatisfiedPattern)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
	}
	return result, nil
}

func ParseDefinition(data []byte) (*CommandPlugin, error) {
	definition := &CommandDefinition{}
	err := yaml.UnmarshalStrict(data, definition)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return NewCommandPlugin(definition)
}

// Load every *.yaml definition in the directory and register it.
func LoadDefinitions(directory string) ([]Plugin, error) {
	files, err := filepath.Glob(filepath.Join(directory, "*.yaml"))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	result := []Plugin{}
	for _, filename := range files {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}

		plugin, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", filename, err)
		}

		Register(plugin)
		result = append(result, plugin)
	}
	return result, nil
}
