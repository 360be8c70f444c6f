// Rows, parameters and events are ordered dicts. The encoder keeps
// their key order so indexed documents look the way plugins emit
// them.
package json

import (
	"bytes"
	"sync"

	"github.com/Velocidex/json"
	"github.com/Velocidex/ordereddict"
)

var (
	mu       sync.Mutex
	encoders = []*customEncoder{}
)

type customEncoder struct {
	sample interface{}
	cb     json.EncoderCallback
}

// Register from an init() function.
func RegisterCustomEncoder(sample interface{}, cb json.EncoderCallback) {
	mu.Lock()
	defer mu.Unlock()

	encoders = append(encoders, &customEncoder{sample: sample, cb: cb})
}

func NewEncOpts() *json.EncOpts {
	mu.Lock()
	defer mu.Unlock()

	opts := json.NewEncOpts()
	for _, e := range encoders {
		opts.WithCallback(e.sample, e.cb)
	}
	return opts
}

// Values which fail to encode are written as null so a single bad
// column does not lose the row.
func encodeDict(v interface{}, opts *json.EncOpts) ([]byte, error) {
	dict, ok := v.(*ordereddict.Dict)
	if !ok {
		return nil, json.EncoderCallbackSkip
	}

	if dict == nil {
		return []byte("null"), nil
	}

	out := bytes.Buffer{}
	out.WriteByte('{')

	first := true
	for _, k := range dict.Keys() {
		key, err := json.MarshalWithOptions(k, opts)
		if err != nil {
			continue
		}

		if !first {
			out.WriteByte(',')
		}
		first = false

		out.Write(key)
		out.WriteByte(':')

		value, _ := dict.Get(k)
		serialized, err := json.MarshalWithOptions(value, opts)
		if err != nil {
			out.WriteString("null")
			continue
		}
		out.Write(serialized)
	}

	out.WriteByte('}')
	return out.Bytes(), nil
}

func init() {
	RegisterCustomEncoder(ordereddict.NewDict(), encodeDict)
}
