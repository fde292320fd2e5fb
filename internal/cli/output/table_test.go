package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("Name", "Behavior", "Records")

	assert.Equal(t, []string{"Name", "Behavior", "Records"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("users", "document", "1204")
	table.AddRow("jobs", "queue", "37")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"users", "document", "1204"}, rows[0])
	assert.Equal(t, []string{"jobs", "queue", "37"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Records")
	table.AddRow("users", "1204")
	table.AddRow("orders", "88")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "RECORDS")
	assert.Contains(t, out, "users")
	assert.Contains(t, out, "1204")
	assert.Contains(t, out, "orders")
}

func TestSimpleTable(t *testing.T) {
	pairs := [][2]string{
		{"Bucket", "my-bucket"},
		{"Prefix", "apps/prod"},
	}

	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, pairs))

	out := buf.String()
	assert.Contains(t, out, "Bucket")
	assert.Contains(t, out, "my-bucket")
	assert.Contains(t, out, "Prefix")
	assert.Contains(t, out, "apps/prod")
}
