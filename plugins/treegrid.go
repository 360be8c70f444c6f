package plugins

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memtriage/constants"
)

type ColumnType string

const (
	ColumnString   ColumnType = "string"
	ColumnInt      ColumnType = "int"
	ColumnHex      ColumnType = "hex"
	ColumnHexBytes ColumnType = "hexbytes"
	ColumnDatetime ColumnType = "datetime"
	ColumnAny      ColumnType = ""
)

type Column struct {
	Name string
	Type ColumnType
}

// A value the plugin could not read from the image. Rendered as null.
type AbsentValue struct {
	Reason string
}

type TreeNode struct {
	Values   []interface{}
	Children []*TreeNode
}

// The result of a plugin: a forest of rows sharing the same columns.
type TreeGrid struct {
	Columns []Column
	Roots   []*TreeNode

	// Errors encountered while the plugin produced rows. The rows
	// before the error are still valid.
	Errors []error
}

func NewTreeGrid(columns ...Column) *TreeGrid {
	return &TreeGrid{Columns: columns}
}

// Add a row under parent, or a top level row when parent is nil.
func (self *TreeGrid) AddRow(parent *TreeNode, values ...interface{}) *TreeNode {
	node := &TreeNode{Values: values}
	if parent == nil {
		self.Roots = append(self.Roots, node)
	} else {
		parent.Children = append(parent.Children, node)
	}
	return node
}

func (self *TreeGrid) AddError(err error) {
	self.Errors = append(self.Errors, err)
}

// Render the grid into rows. Each row maps column names to values and
// carries its descendants under the children key. Cells which can not
// be rendered become null and are reported in the returned errors.
func (self *TreeGrid) Render() ([]*ordereddict.Dict, []string) {
	errors := []string{}
	for _, err := range self.Errors {
		errors = append(errors, err.Error())
	}

	row_id := 0
	var render func(nodes []*TreeNode) []*ordereddict.Dict
	render = func(nodes []*TreeNode) []*ordereddict.Dict {
		result := make([]*ordereddict.Dict, 0, len(nodes))
		for _, node := range nodes {
			row_id++
			row := ordereddict.NewDict()

			if len(node.Values) != len(self.Columns) {
				errors = append(errors, fmt.Sprintf(
					"row %d: expected %d values, got %d",
					row_id, len(self.Columns), len(node.Values)))
			}

			for idx, column := range self.Columns {
				var value interface{}
				if idx < len(node.Values) {
					var err error
					value, err = renderValue(column.Type, node.Values[idx])
					if err != nil {
						errors = append(errors, fmt.Sprintf(
							"row %d: %v: %v", row_id, column.Name, err))
					}
				}
				row.Set(column.Name, value)
			}

			row.Set(constants.CHILDREN_KEY, render(node.Children))
			result = append(result, row)
		}
		return result
	}

	return render(self.Roots), errors
}

func renderValue(column_type ColumnType, value interface{}) (interface{}, error) {
	switch t := value.(type) {
	case nil, AbsentValue, *AbsentValue:
		return nil, nil

	case error:
		return nil, t
	}

	switch column_type {
	case ColumnHex:
		switch t := value.(type) {
		case int, int32, int64, uint, uint32, uint64:
			return fmt.Sprintf("0x%x", t), nil
		}
		return nil, fmt.Errorf("can not render %T as hex", value)

	case ColumnHexBytes:
		switch t := value.(type) {
		case []byte:
			return hexBytesAsText(t), nil
		case string:
			return hexBytesAsText([]byte(t)), nil
		}
		return nil, fmt.Errorf("can not render %T as bytes", value)

	case ColumnDatetime:
		switch t := value.(type) {
		case time.Time:
			if t.IsZero() {
				return nil, nil
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		case *time.Time:
			if t == nil || t.IsZero() {
				return nil, nil
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		return nil, fmt.Errorf("can not render %T as a time", value)
	}

	return value, nil
}

// Hex pairs separated by spaces.
func hexBytesAsText(data []byte) string {
	parts := make([]string, 0, len(data))
	for _, b := range data {
		parts = append(parts, hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, " ")
}
