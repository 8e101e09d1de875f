package wire

// Result is the decoded outcome of one statement: column names, rows of
// Values, and the affected-row count for mutations.
//
// A non-read statement yields no rows; RowsAffected alone is meaningful.
type Result struct {
	Columns      []string
	Rows         [][]Value
	RowsAffected int64
}

// RowCount returns the number of rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// ColumnCount returns the number of columns.
func (r *Result) ColumnCount() int {
	return len(r.Columns)
}

// DecodeResult converts a QueryResponse into a Result, decoding every value
// envelope. The caller must have rejected server-reported errors first.
//
// A response with no result set yields an empty Result carrying only
// RowsAffected. A value that fails to decode aborts the conversion; no
// partial Result is returned.
func DecodeResult(resp *QueryResponse) (*Result, error) {
	out := &Result{RowsAffected: resp.RowsAffected}
	if resp.ResultSet == nil {
		return out, nil
	}

	out.Columns = append(out.Columns, resp.ResultSet.Columns...)
	out.Rows = make([][]Value, 0, len(resp.ResultSet.Rows))
	for _, row := range resp.ResultSet.Rows {
		vals := make([]Value, 0, len(row.Values))
		for _, env := range row.Values {
			v, err := Decode(env)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, nil
}
