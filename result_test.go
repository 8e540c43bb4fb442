package cqlcore

import (
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/types"
)

func rowsResult() *message.RowsResult {
	return &message.RowsResult{
		Metadata: &message.RowsMetadata{
			ColumnCount: 2,
			PagingState: []byte{0xab},
			Columns: []*message.ColumnMetadata{
				{Keyspace: "ks", Table: "tbl", Name: "name", Index: 0, Type: datatype.Varchar},
				{Keyspace: "ks", Table: "tbl", Name: "age", Index: 1, Type: datatype.Int},
			},
		},
		Data: message.RowSet{
			{[]byte("ada"), {0, 0, 0, 36}},
			{[]byte("bob"), nil},
		},
	}
}

func TestResultRows(t *testing.T) {
	res, err := newResult(rowsResult(), primitive.ProtocolVersion4, "h:9042")
	require.NoError(t, err)
	require.Equal(t, ResultRows, res.Kind())
	require.Equal(t, "h:9042", res.Host())
	require.Equal(t, 2, res.NumRows())
	require.Equal(t, []byte{0xab}, res.PagingState())
	require.Equal(t, []ColumnInfo{
		{Keyspace: "ks", Table: "tbl", Name: "name", Type: "varchar"},
		{Keyspace: "ks", Table: "tbl", Name: "age", Type: "int"},
	}, res.Columns())

	var (
		name string
		age  int32
	)
	require.Error(t, res.Scan(&name), "no current row yet")
	require.Nil(t, res.RawRow())

	require.True(t, res.Next())
	require.NoError(t, res.Scan(&name, &age))
	require.Equal(t, "ada", name)
	require.Equal(t, int32(36), age)
	require.Equal(t, [][]byte{[]byte("ada"), {0, 0, 0, 36}}, res.RawRow())

	require.True(t, res.Next())
	// nil skips a column
	require.NoError(t, res.Scan(&name, nil))
	require.Equal(t, "bob", name)

	require.False(t, res.Next())
	require.ErrorContains(t, res.Scan(&name, &age, &age), "Scan")
}

func TestResultKinds(t *testing.T) {
	tests := []struct {
		name     string
		msg      message.Message
		kind     ResultKind
		keyspace string
	}{
		{"void", &message.VoidResult{}, ResultVoid, ""},
		{"set keyspace", &message.SetKeyspaceResult{Keyspace: "app"}, ResultSetKeyspace, "app"},
		{"prepared", &message.PreparedResult{PreparedQueryId: []byte{1}}, ResultPrepared, ""},
		{"schema change", &message.SchemaChangeResult{
			ChangeType: primitive.SchemaChangeTypeCreated,
			Target:     primitive.SchemaChangeTargetKeyspace,
			Keyspace:   "app",
		}, ResultSchemaChange, "app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newResult(tt.msg, primitive.ProtocolVersion4, "h:9042")
			require.NoError(t, err)
			require.Equal(t, tt.kind, res.Kind())
			require.Equal(t, tt.keyspace, res.Keyspace())
			require.Zero(t, res.NumRows())
			require.False(t, res.Next())
		})
	}
}

func TestResultUnexpectedResponse(t *testing.T) {
	_, err := newResult(&message.Ready{}, primitive.ProtocolVersion4, "h:9042")

	var protoErr *types.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Equal(t, "h:9042", protoErr.Host)
}

func TestResultScanTypeMismatch(t *testing.T) {
	res, err := newResult(rowsResult(), primitive.ProtocolVersion4, "h:9042")
	require.NoError(t, err)
	require.True(t, res.Next())

	var wrong []int
	require.ErrorContains(t, res.Scan(&wrong), "column name")
}
