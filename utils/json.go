package utils

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/Velocidex/ordereddict"
	errors "github.com/pkg/errors"
)

// ParseJsonToDicts parses either a JSON array of objects or JSONL
// into ordered dicts, preserving the key order of each object.
func ParseJsonToDicts(serialized []byte) ([]*ordereddict.Dict, error) {
	serialized = bytes.TrimSpace(serialized)
	if len(serialized) == 0 {
		return nil, nil
	}

	if serialized[0] != '[' {
		return parseJsonl(serialized)
	}

	var raw_objects []json.RawMessage
	err := json.Unmarshal(serialized, &raw_objects)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	result := make([]*ordereddict.Dict, 0, len(raw_objects))
	for _, raw_message := range raw_objects {
		item := ordereddict.NewDict()
		err = json.Unmarshal(raw_message, &item)
		if err != nil {
			continue
		}
		result = append(result, item)
	}

	return result, nil
}

func parseJsonl(serialized []byte) ([]*ordereddict.Dict, error) {
	result := []*ordereddict.Dict{}

	scanner := bufio.NewScanner(bytes.NewReader(serialized))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		item := ordereddict.NewDict()
		err := json.Unmarshal(line, &item)
		if err != nil {
			return nil, errors.Wrapf(err, "while parsing %q", string(line))
		}
		result = append(result, item)
	}

	return result, errors.WithStack(scanner.Err())
}
