package cqlcore

import (
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/require"
)

func TestDecodeStringSet(t *testing.T) {
	v4 := primitive.ProtocolVersion4

	encoded, err := stringSetCodec.Encode([]string{"-9223372036854775808", "0"}, v4)
	require.NoError(t, err)

	tokens, err := decodeStringSet(encoded, v4)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"-9223372036854775808", "0"}, tokens)

	tokens, err = decodeStringSet(nil, v4)
	require.NoError(t, err)
	require.Nil(t, tokens)

	v2 := primitive.ProtocolVersion2
	encoded, err = stringSetCodec.Encode([]string{"42"}, v2)
	require.NoError(t, err)
	tokens, err = decodeStringSet(encoded, v2)
	require.NoError(t, err)
	require.Equal(t, []string{"42"}, tokens)
}

func TestDecodeStringSetRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name    string
		value   []byte
		version primitive.ProtocolVersion
	}{
		{"huge count", []byte{0x7f, 0xff, 0xff, 0xff}, primitive.ProtocolVersion4},
		{"huge count with payload", []byte{0x7f, 0xff, 0xff, 0xff, 0, 0, 0, 1, 'a'}, primitive.ProtocolVersion4},
		{"negative count", []byte{0xff, 0xff, 0xff, 0xff}, primitive.ProtocolVersion4},
		{"truncated count", []byte{0, 0}, primitive.ProtocolVersion4},
		{"truncated element", []byte{0, 0, 0, 1, 0, 0, 0, 9, 'a'}, primitive.ProtocolVersion4},
		{"huge v2 count", []byte{0xff, 0xff, 0, 1, 'a'}, primitive.ProtocolVersion2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := decodeStringSet(tt.value, tt.version)
			require.Error(t, err)
			require.Nil(t, tokens)
		})
	}
}

func TestDecodeStringMap(t *testing.T) {
	v4 := primitive.ProtocolVersion4
	replication := map[string]string{
		"class": "org.apache.cassandra.locator.NetworkTopologyStrategy",
		"dc1":   "3",
	}

	encoded, err := stringMapCodec.Encode(replication, v4)
	require.NoError(t, err)

	got, err := decodeStringMap(encoded, v4)
	require.NoError(t, err)
	require.Equal(t, replication, got)

	// one entry needs two length prefixes
	_, err = decodeStringMap([]byte{0, 0, 0, 1, 0, 0, 0, 0}, v4)
	require.Error(t, err)
}
