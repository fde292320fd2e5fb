package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by values that know their own tabular
// shape, such as resource listings.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// TableData is an ad-hoc TableRenderer built row by row.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData returns an empty table with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one row.
func (t *TableData) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *TableData) Headers() []string { return t.headers }
func (t *TableData) Rows() [][]string  { return t.rows }

// PrintTable writes data as a table with upper-cased headers.
func PrintTable(w io.Writer, data TableRenderer) error {
	tw := newTableWriter(w)
	tw.SetAutoFormatHeaders(true)
	tw.SetHeader(data.Headers())
	for _, row := range data.Rows() {
		tw.Append(row)
	}
	tw.Render()
	return nil
}

// SimpleTable writes key/value pairs one per line, the layout used by
// describe-style commands.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	tw := newTableWriter(w)
	tw.SetColumnSeparator(":")
	for _, pair := range pairs {
		tw.Append([]string{pair[0], pair[1]})
	}
	tw.Render()
	return nil
}

// newTableWriter applies the house style: no borders or separators,
// left alignment, two-space padding.
func newTableWriter(w io.Writer) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	return tw
}
