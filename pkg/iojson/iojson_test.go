package iojson

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, map[string]int{"a": 1}))
	require.NoError(t, WriteLine(&buf, map[string]int{"b": 2}))
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", buf.String())
}

func TestWriteWith_MarshalFailure(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, WriteWith(&out, &errOut, map[string]any{"ch": make(chan int)}))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "error marshaling")
}

func TestMarshalError(t *testing.T) {
	s := MarshalError(`bad "input"`, map[string]any{"field": "reward"})
	assert.True(t, strings.Contains(s, `"message": "bad \"input\""`))
	assert.Contains(t, jsonError("x", errors.New("y")), `"json_error":"y"`)
}

type item struct {
	ID string `json:"id"`
}

func TestFileReader_ReadAll(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []item
	}{
		{"array", `[{"id":"a"},{"id":"b"}]`, []item{{"a"}, {"b"}}},
		{"json lines", "{\"id\":\"a\"}\n{\"id\":\"b\"}\n", []item{{"a"}, {"b"}}},
		{"leading whitespace", "\n  [{\"id\":\"a\"}]", []item{{"a"}}},
		{"empty", "   \n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := FileReader[item]{stdin: strings.NewReader(tt.input)}
			got, err := fr.ReadAll()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileReader_ReadAllBadLine(t *testing.T) {
	fr := FileReader[item]{stdin: strings.NewReader("{\"id\":\"a\"}\n{oops}\n")}
	_, err := fr.ReadAll()
	assert.ErrorContains(t, err, "document 2")
}

func TestFileReader_ReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"x"}`), 0o644))

	fr := FileReader[item]{fileFlagValue: path}
	got, err := fr.Read()
	require.NoError(t, err)
	assert.Equal(t, item{"x"}, got)

	fr.fileFlagValue = filepath.Join(t.TempDir(), "missing.json")
	_, err = fr.Read()
	assert.ErrorContains(t, err, "open file")
}
