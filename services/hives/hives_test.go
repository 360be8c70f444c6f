package hives

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/stretchr/testify/assert"
	"www.velocidex.com/golang/regparser"
)

func TestConvertValue(t *testing.T) {
	assert.Equal(t, "C:\\Windows", convertValue(&regparser.ValueData{
		Type:   regparser.REG_SZ,
		String: "C:\\Windows\x00\x00",
	}))

	assert.Equal(t, []string{"a", "b"}, convertValue(&regparser.ValueData{
		Type:    regparser.REG_MULTI_SZ,
		MultiSz: []string{"a\x00", "b"},
	}))

	assert.Equal(t, uint64(42), convertValue(&regparser.ValueData{
		Type:   regparser.REG_DWORD,
		Uint64: 42,
	}))

	assert.Equal(t, "4d5a", convertValue(&regparser.ValueData{
		Type: regparser.REG_BINARY,
		Data: []byte("MZ"),
	}))

	large := convertValue(&regparser.ValueData{
		Type: regparser.REG_BINARY,
		Data: []byte(strings.Repeat("A", MAX_EMBEDDED_VALUE+1)),
	})
	summary, ok := large.(*ordereddict.Dict)
	assert.True(t, ok)
	data_len, _ := summary.Get("data_len")
	assert.Equal(t, MAX_EMBEDDED_VALUE+1, data_len)

	assert.Nil(t, convertValue(nil))
}

func TestDecodeInvalidHive(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "SYSTEM")
	assert.NoError(t, os.WriteFile(filename, []byte("not a registry hive"), 0600))

	_, err := Decode(context.Background(), filename)
	assert.Error(t, err)

	_, err = Decode(context.Background(), filename+".missing")
	assert.Error(t, err)
}
