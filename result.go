package cqlcore

import (
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/datacodec"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/arloliu/cqlcore/types"
)

// ResultKind is the kind of a RESULT response.
type ResultKind uint8

// Result kinds.
const (
	ResultVoid ResultKind = iota
	ResultRows
	ResultSetKeyspace
	ResultPrepared
	ResultSchemaChange
)

// ColumnInfo describes a result column.
type ColumnInfo struct {
	Keyspace string
	Table    string
	Name     string
	Type     string
}

// Result is the outcome of a successful request.
//
// Rows are consumed with Next and Scan. A Result is not safe for concurrent use.
type Result struct {
	kind        ResultKind
	host        string
	version     primitive.ProtocolVersion
	columns     []*message.ColumnMetadata
	codecs      []datacodec.Codec
	rows        message.RowSet
	pos         int
	pagingState []byte
	keyspace    string
	prepared    *message.PreparedResult
}

func emptyResult(host string) *Result {
	return &Result{kind: ResultVoid, host: host, pos: -1}
}

func newResult(msg message.Message, version primitive.ProtocolVersion, host string) (*Result, error) {
	r := &Result{host: host, version: version, pos: -1}

	switch m := msg.(type) {
	case *message.VoidResult:
		r.kind = ResultVoid
	case *message.RowsResult:
		r.kind = ResultRows
		r.rows = m.Data
		if m.Metadata != nil {
			r.columns = m.Metadata.Columns
			r.pagingState = m.Metadata.PagingState
		}
	case *message.SetKeyspaceResult:
		r.kind = ResultSetKeyspace
		r.keyspace = m.Keyspace
	case *message.PreparedResult:
		r.kind = ResultPrepared
		r.prepared = m
	case *message.SchemaChangeResult:
		r.kind = ResultSchemaChange
		r.keyspace = m.Keyspace
	default:
		return nil, &types.ProtocolError{Host: host, Message: fmt.Sprintf("unexpected response %v", msg)}
	}

	return r, nil
}

// Kind returns the result kind.
func (r *Result) Kind() ResultKind { return r.kind }

// Host returns the endpoint of the coordinator that answered.
func (r *Result) Host() string { return r.host }

// Keyspace returns the keyspace of USE and schema change results.
func (r *Result) Keyspace() string { return r.keyspace }

// PagingState returns the state to fetch the next page, or nil on the last page.
func (r *Result) PagingState() []byte { return r.pagingState }

// NumRows returns the number of rows in this page.
func (r *Result) NumRows() int { return len(r.rows) }

// Columns describes the result columns.
func (r *Result) Columns() []ColumnInfo {
	out := make([]ColumnInfo, len(r.columns))
	for i, col := range r.columns {
		out[i] = ColumnInfo{Keyspace: col.Keyspace, Table: col.Table, Name: col.Name}
		if col.Type != nil {
			out[i].Type = col.Type.AsCql()
		}
	}

	return out
}

// Next advances to the next row.
//
// Returns:
//   - bool: false when no rows are left
func (r *Result) Next() bool {
	if r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++

	return true
}

// Scan decodes the current row into dest.
//
// Each destination must be a pointer compatible with its column type, or nil
// to skip the column.
//
// Parameters:
//   - dest: One destination per column, in column order
//
// Returns:
//   - error: If there is no current row or a column cannot be decoded
func (r *Result) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return fmt.Errorf("cqlcore: Scan called without a current row")
	}

	row := r.rows[r.pos]
	if len(dest) > len(row) {
		return fmt.Errorf("cqlcore: Scan expects at most %d destinations, got %d", len(row), len(dest))
	}

	if r.codecs == nil {
		if err := r.buildCodecs(); err != nil {
			return err
		}
	}

	for i, d := range dest {
		if d == nil {
			continue
		}
		if _, err := r.codecs[i].Decode(row[i], d, r.version); err != nil {
			return fmt.Errorf("cqlcore: column %s: %w", r.columns[i].Name, err)
		}
	}

	return nil
}

// RawRow returns the undecoded column values of the current row.
func (r *Result) RawRow() [][]byte {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}

	row := r.rows[r.pos]
	out := make([][]byte, len(row))
	for i, col := range row {
		out[i] = col
	}

	return out
}

func (r *Result) buildCodecs() error {
	codecs := make([]datacodec.Codec, len(r.columns))
	for i, col := range r.columns {
		codec, err := datacodec.NewCodec(col.Type)
		if err != nil {
			return fmt.Errorf("cqlcore: column %s: %w", col.Name, err)
		}
		codecs[i] = codec
	}
	r.codecs = codecs

	return nil
}

// columnIndex returns the index of the named column, or -1.
func (r *Result) columnIndex(name string) int {
	for i, col := range r.columns {
		if col.Name == name {
			return i
		}
	}

	return -1
}
