package plugins

import (
	"errors"
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/memtriage/utils"
)

var test_requirements = []Requirement{
	{Name: "pid", Type: RequirementList, ElementType: RequirementInt, Optional: true},
	{Name: "name", Type: RequirementList, Optional: true},
	{Name: "physical", Type: RequirementBool, Optional: true, Default: false},
	{Name: "max_size", Type: RequirementInt, Optional: true},
	{Name: "format", Type: RequirementChoice, Choices: []string{"csv", "json"},
		Default: "json"},
}

func TestParseFormValues(t *testing.T) {
	params, err := ParseFormValues(test_requirements, map[string]string{
		"pid":      "4, 300 0x1f4",
		"name":     `"svchost.exe" 'lsass.exe',explorer.exe`,
		"physical": "on",
		"max_size": "1024",
		"unknown":  "ignored",
		"dump":     "true",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"pid", "name", "physical", "max_size", "dump"},
		params.Keys())

	pid, _ := params.Get("pid")
	assert.Equal(t, []interface{}{int64(4), int64(300), int64(500)}, pid)

	name, _ := params.Get("name")
	assert.Equal(t, []interface{}{"svchost.exe", "lsass.exe", "explorer.exe"}, name)

	physical, _ := params.Get("physical")
	assert.Equal(t, true, physical)

	assert.True(t, CaptureRequested(params, false))
}

func TestParseFormValuesErrors(t *testing.T) {
	_, err := ParseFormValues(test_requirements, map[string]string{
		"pid": "4,abc",
	})
	assert.True(t, errors.Is(err, utils.InvalidArgError))

	params, err := ParseFormValues(test_requirements, map[string]string{
		"physical": "yes",
	})
	require.NoError(t, err)
	physical, _ := params.Get("physical")
	assert.Equal(t, false, physical)
}

func TestMergeParameters(t *testing.T) {
	merged := MergeParameters(test_requirements,
		ordereddict.NewDict().Set("format", "csv").Set("dump", true))

	assert.Equal(t, []string{"physical", "format", "dump"}, merged.Keys())
	format, _ := merged.Get("format")
	assert.Equal(t, "csv", format)

	merged = MergeParameters(test_requirements, nil)
	assert.False(t, CaptureRequested(merged, false))
}

func TestCaptureFollowsLocalDump(t *testing.T) {
	params := ordereddict.NewDict().Set("pid", []int64{4})
	assert.True(t, CaptureRequested(params, true))
	assert.False(t, CaptureRequested(params, false))
	assert.True(t, CaptureRequested(nil, true))

	// An explicit request wins either way.
	assert.False(t, CaptureRequested(params.Set("dump", false), true))
	assert.True(t, CaptureRequested(
		ordereddict.NewDict().Set("dump", "true"), false))
}

func TestCheckRequirements(t *testing.T) {
	requirements := []Requirement{
		{Name: "format", Type: RequirementChoice, Choices: []string{"csv", "json"}},
		{Name: "rules", Type: RequirementFile},
		{Name: "kernel", Type: RequirementScalar},
	}

	err := CheckRequirements(requirements, ordereddict.NewDict().
		Set("format", "xml").
		Set("rules", "file:/does/not/exist").
		Set("kernel", "5.10"))

	unsatisfied, ok := err.(*UnsatisfiedError)
	require.True(t, ok)
	assert.Equal(t, 2, len(unsatisfied.Unmet))
	assert.Equal(t,
		"format: \"xml\" is not one of csv, json\n"+
			"rules: unable to open /does/not/exist", err.Error())

	err = CheckRequirements(requirements, ordereddict.NewDict().
		Set("format", "csv").Set("kernel", "5.10"))
	assert.Equal(t, "rules: required parameter is missing", err.Error())
}
