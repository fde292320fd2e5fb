package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resourceDoc struct {
	Name    string `json:"name" yaml:"name"`
	Records int    `json:"records" yaml:"records"`
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, resourceDoc{Name: "users", Records: 42}))

	out := buf.String()
	assert.Contains(t, out, `"name": "users"`)
	assert.Contains(t, out, `"records": 42`)
}

func TestPrintJSONArray(t *testing.T) {
	docs := []resourceDoc{
		{Name: "users", Records: 1},
		{Name: "orders", Records: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, docs))

	out := buf.String()
	assert.Contains(t, out, `"name": "users"`)
	assert.Contains(t, out, `"name": "orders"`)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, resourceDoc{Name: "users", Records: 42}))

	out := buf.String()
	assert.Contains(t, out, "name: users")
	assert.Contains(t, out, "records: 42")
}

func TestPrintYAMLArray(t *testing.T) {
	docs := []resourceDoc{{Name: "users"}, {Name: "orders"}}

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, docs))

	out := buf.String()
	assert.Contains(t, out, "- name: users")
	assert.Contains(t, out, "- name: orders")
}
