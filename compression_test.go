package cqlcore

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/types"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":      {},
		"small":      []byte("SELECT * FROM ks.tbl WHERE k = ?"),
		"repetitive": []byte(strings.Repeat("cassandra", 4096)),
	}

	for _, comp := range []Compressor{SnappyCompressor{}, LZ4Compressor{}} {
		c, err := compressorFor(comp.Algorithm())
		require.NoError(t, err)

		for name, payload := range payloads {
			t.Run(comp.Algorithm()+"/"+name, func(t *testing.T) {
				var compressed bytes.Buffer
				require.NoError(t, c.CompressWithLength(bytes.NewReader(payload), &compressed))

				var out bytes.Buffer
				require.NoError(t, c.DecompressWithLength(bytes.NewReader(compressed.Bytes()), &out))
				require.Equal(t, payload, out.Bytes()[:len(payload)])
				require.Equal(t, len(payload), out.Len())
			})
		}
	}
}

func TestLZ4BodyHasLengthPrefix(t *testing.T) {
	payload := []byte(strings.Repeat("abc", 100))

	var compressed bytes.Buffer
	require.NoError(t, LZ4Compressor{}.CompressWithLength(bytes.NewReader(payload), &compressed))

	b := compressed.Bytes()
	require.GreaterOrEqual(t, len(b), 4)
	require.Equal(t, []byte{0, 0, 1, 44}, b[:4], "big endian uncompressed length 300")
}

func TestLZ4RejectsShortBody(t *testing.T) {
	var out bytes.Buffer
	err := LZ4Compressor{}.DecompressWithLength(bytes.NewReader([]byte{0, 1}), &out)
	require.Error(t, err)
	require.True(t, errors.Is(err, errShortLZ4Body))
}

func TestCompressorFor(t *testing.T) {
	c, err := compressorFor("")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = compressorFor("zstd")
	require.ErrorIs(t, err, types.ErrUnsupportedCompression)
}

func TestLZ4RejectsOversizedLengthPrefix(t *testing.T) {
	var out bytes.Buffer
	err := LZ4Compressor{}.DecompressWithLength(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x10, 'a'}), &out)
	require.ErrorIs(t, err, errLZ4Length)
	require.Zero(t, out.Len())
}
