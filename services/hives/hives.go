// Decodes captured registry hives into a flat list of keys.
package hives

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/go-errors/errors"
	"www.velocidex.com/golang/memtriage/utils"
	"www.velocidex.com/golang/regparser"
)

const (
	// Corrupt hives can contain key loops.
	MAX_DEPTH = 512

	// Large binary values are summarized.
	MAX_EMBEDDED_VALUE = 4096
)

// Decode walks every key of the hive at filename and returns
// {"values": [key, ...]}. Each key records its path, last write
// time and values.
func Decode(ctx context.Context, filename string) (result *ordereddict.Dict, err error) {
	defer utils.RecoverError(&err)

	fd, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer fd.Close()

	hive, err := regparser.NewRegistry(fd)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	root_cell := hive.Profile.HCELL(hive.Reader,
		0x1000+int64(hive.BaseBlock.RootCell()))
	root := root_cell.KeyNode()
	if root == nil {
		return nil, errors.Errorf("%v: hive has no root key", filename)
	}

	keys := []*ordereddict.Dict{}
	err = walk(ctx, root, "", 0, &keys)
	if err != nil {
		return nil, err
	}

	return ordereddict.NewDict().Set("values", keys), nil
}

func walk(ctx context.Context, key *regparser.CM_KEY_NODE,
	parent string, depth int, keys *[]*ordereddict.Dict) error {
	if depth > MAX_DEPTH {
		return errors.Errorf("%v: key nesting too deep", parent)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for _, subkey := range key.Subkeys() {
		name := stripNul(subkey.Name())
		path := parent + "\\" + name

		values := []*ordereddict.Dict{}
		for _, value := range subkey.Values() {
			values = append(values, ordereddict.NewDict().
				Set("name", stripNul(value.ValueName())).
				Set("value_type", value.TypeString()).
				Set("value", convertValue(value.ValueData())))
		}

		*keys = append(*keys, ordereddict.NewDict().
			Set("subkey_name", name).
			Set("path", path).
			Set("timestamp", subkey.LastWriteTime().Time.UTC().
				Format(time.RFC3339Nano)).
			Set("values_count", len(values)).
			Set("values", values))

		err := walk(ctx, subkey, path, depth+1, keys)
		if err != nil {
			return err
		}
	}

	return nil
}

func convertValue(value_data *regparser.ValueData) interface{} {
	if value_data == nil {
		return nil
	}

	switch value_data.Type {
	case regparser.REG_SZ, regparser.REG_EXPAND_SZ:
		return stripNul(value_data.String)

	case regparser.REG_MULTI_SZ:
		result := make([]string, 0, len(value_data.MultiSz))
		for _, item := range value_data.MultiSz {
			result = append(result, stripNul(item))
		}
		return result

	case regparser.REG_DWORD, regparser.REG_QWORD, regparser.REG_DWORD_BIG_ENDIAN:
		return value_data.Uint64

	default:
		if len(value_data.Data) > MAX_EMBEDDED_VALUE {
			return ordereddict.NewDict().
				Set("data_len", len(value_data.Data)).
				Set("sha256", utils.Sha256Bytes(value_data.Data))
		}
		return hex.EncodeToString(value_data.Data)
	}
}

// NUL characters are not valid in the search index.
func stripNul(in string) string {
	return strings.ReplaceAll(in, "\x00", "")
}
