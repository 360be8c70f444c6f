package json

import (
	"bytes"

	"github.com/Velocidex/json"
	"github.com/Velocidex/ordereddict"
)

type RawMessage = json.RawMessage

func Marshal(v interface{}) ([]byte, error) {
	return json.MarshalWithOptions(v, NewEncOpts())
}

func MarshalIndent(v interface{}) ([]byte, error) {
	serialized, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	out := bytes.Buffer{}
	err = json.Indent(&out, serialized, "", " ")
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func MustMarshalString(v interface{}) string {
	serialized, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(serialized)
}

func MustMarshalIndent(v interface{}) []byte {
	serialized, err := MarshalIndent(v)
	if err != nil {
		panic(err)
	}
	return serialized
}

// One document per line, the format the bulk indexers and the rows
// command emit.
func MarshalJsonl(rows []*ordereddict.Dict) ([]byte, error) {
	opts := NewEncOpts()

	out := bytes.Buffer{}
	for _, row := range rows {
		serialized, err := json.MarshalWithOptions(row, opts)
		if err != nil {
			return nil, err
		}
		out.Write(serialized)
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

func Unmarshal(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
