package plugins

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/google/shlex"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/utils"
)

// Overlay the explicit parameters over the declared defaults.
func MergeParameters(
	requirements []Requirement, params *ordereddict.Dict) *ordereddict.Dict {
	result := ordereddict.NewDict()
	for _, req := range requirements {
		if req.Default != nil {
			result.Set(req.Name, req.Default)
		}
	}

	if params != nil {
		for _, k := range params.Keys() {
			v, _ := params.Get(k)
			result.Set(k, v)
		}
	}
	return result
}

func IsTruthy(value interface{}) bool {
	switch t := value.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "on", "yes", "1":
			return true
		}
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}

// An explicit dump parameter decides. Otherwise plugins which
// extract files locally always capture them.
func CaptureRequested(params *ordereddict.Dict, local_dump bool) bool {
	if params == nil {
		return local_dump
	}
	value, pres := params.Get(constants.DUMP_PARAMETER)
	if !pres {
		return local_dump
	}
	return IsTruthy(value)
}

// Convert the raw submitted form values into typed parameters
// following each requirement's declared type. List values are split
// on whitespace (with shell quoting) and on commas. Values for
// undeclared names are ignored, except the capture toggle.
func ParseFormValues(
	requirements []Requirement, raw map[string]string) (*ordereddict.Dict, error) {
	result := ordereddict.NewDict()

	for _, req := range requirements {
		value, pres := raw[req.Name]
		if !pres {
			continue
		}

		switch req.Type {
		case RequirementList:
			items, err := splitList(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v: %v", utils.InvalidArgError, req.Name, err)
			}
			if req.ElementType == RequirementInt {
				ints := make([]interface{}, 0, len(items))
				for _, item := range items {
					i, err := strconv.ParseInt(item, 0, 64)
					if err != nil {
						return nil, fmt.Errorf("%w: %v: %q is not a number",
							utils.InvalidArgError, req.Name, item)
					}
					ints = append(ints, i)
				}
				result.Set(req.Name, ints)
				continue
			}
			strs := make([]interface{}, 0, len(items))
			for _, item := range items {
				strs = append(strs, item)
			}
			result.Set(req.Name, strs)

		case RequirementBool:
			result.Set(req.Name, value == "true" || value == "on")

		case RequirementInt:
			i, err := strconv.ParseInt(strings.TrimSpace(value), 0, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v: %q is not a number",
					utils.InvalidArgError, req.Name, value)
			}
			result.Set(req.Name, i)

		default:
			result.Set(req.Name, value)
		}
	}

	_, declared := result.Get(constants.DUMP_PARAMETER)
	value, pres := raw[constants.DUMP_PARAMETER]
	if pres && !declared {
		result.Set(constants.DUMP_PARAMETER, value == "true" || value == "on")
	}

	return result, nil
}

// Quoted commas are split too.
func splitList(value string) ([]string, error) {
	tokens, err := shlex.Split(value)
	if err != nil {
		return nil, err
	}

	result := []string{}
	for _, token := range tokens {
		for _, item := range strings.Split(token, ",") {
			if item != "" {
				result = append(result, item)
			}
		}
	}
	return result, nil
}
