package plugins

import (
	"fmt"
	"os"
	"strings"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memtriage/constants"
)

type UnmetRequirement struct {
	Name        string
	Explanation string
}

// Returned when the plugin can not run with the given configuration.
type UnsatisfiedError struct {
	Unmet []UnmetRequirement
}

func (self *UnsatisfiedError) Error() string {
	explanations := make([]string, 0, len(self.Unmet))
	for _, unmet := range self.Unmet {
		explanations = append(explanations, unmet.Explanation)
	}
	return strings.Join(explanations, "\n")
}

func (self *UnsatisfiedError) Add(name, format string, args ...interface{}) {
	self.Unmet = append(self.Unmet, UnmetRequirement{
		Name:        name,
		Explanation: fmt.Sprintf(format, args...),
	})
}

// Verify the parameters against the plugin's declared requirements.
// Returns an *UnsatisfiedError listing every problem or nil.
func CheckRequirements(
	requirements []Requirement, params *ordereddict.Dict) error {
	result := &UnsatisfiedError{}

	for _, req := range requirements {
		value, pres := params.Get(req.Name)
		if !pres || value == nil {
			if !req.Optional {
				result.Add(req.Name, "%v: required parameter is missing", req.Name)
			}
			continue
		}

		switch req.Type {
		case RequirementChoice:
			str_value, _ := value.(string)
			if !inChoices(req.Choices, str_value) {
				result.Add(req.Name, "%v: %q is not one of %v",
					req.Name, str_value, strings.Join(req.Choices, ", "))
			}

		case RequirementFile:
			str_value, _ := value.(string)
			if !strings.HasPrefix(str_value, constants.FILE_PARAMETER_PREFIX) {
				result.Add(req.Name, "%v: expected a file location", req.Name)
				continue
			}
			path := strings.TrimPrefix(str_value, constants.FILE_PARAMETER_PREFIX)
			_, err := os.Stat(path)
			if err != nil {
				result.Add(req.Name, "%v: unable to open %v", req.Name, path)
			}
		}
	}

	if len(result.Unmet) > 0 {
		return result
	}
	return nil
}

func inChoices(choices []string, value string) bool {
	for _, c := range choices {
		if c == value {
			return true
		}
	}
	return false
}
