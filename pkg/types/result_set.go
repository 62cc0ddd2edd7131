package types

// ResultSet represents a query result in row form.
// Sinks that write row-oriented formats (tables, CSV) consume it.
type ResultSet interface {
	// GetSchema returns the column definitions.
	GetSchema() *Schema

	// GetRows returns the row data.
	GetRows() [][]interface{}

	// GetRowCount returns the number of rows.
	GetRowCount() int

	// GetColumnCount returns the number of columns.
	GetColumnCount() int
}

// ChunkResultSet is a row view over a Chunk.
type ChunkResultSet struct {
	chunk *Chunk
}

// NewChunkResultSet wraps a chunk.
func NewChunkResultSet(chunk *Chunk) *ChunkResultSet {
	return &ChunkResultSet{chunk: chunk}
}

// GetSchema returns the column definitions.
func (rs *ChunkResultSet) GetSchema() *Schema {
	return rs.chunk.Schema()
}

// GetRows materializes every row.
func (rs *ChunkResultSet) GetRows() [][]interface{} {
	rows := make([][]interface{}, rs.chunk.NumRows())
	for i := range rows {
		rows[i] = rs.chunk.Row(i)
	}
	return rows
}

// FormatRow returns display strings for row i.
func (rs *ChunkResultSet) FormatRow(i int) []string {
	row := make([]string, rs.chunk.NumColumns())
	for j := range row {
		row[j] = rs.chunk.Column(j).FormatValue(i)
	}
	return row
}

// FormattedRows returns display strings, limited to maxRows rows (-1 for all).
func (rs *ChunkResultSet) FormattedRows(maxRows int) [][]string {
	n := rs.chunk.NumRows()
	if maxRows >= 0 && maxRows < n {
		n = maxRows
	}
	rows := make([][]string, n)
	for i := range n {
		rows[i] = rs.FormatRow(i)
	}
	return rows
}

// GetRowCount returns the number of rows.
func (rs *ChunkResultSet) GetRowCount() int {
	return rs.chunk.NumRows()
}

// GetColumnCount returns the number of columns.
func (rs *ChunkResultSet) GetColumnCount() int {
	return rs.chunk.NumColumns()
}

var _ ResultSet = (*ChunkResultSet)(nil)
