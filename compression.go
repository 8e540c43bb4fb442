package cqlcore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/arloliu/cqlcore/types"
)

// Supported compression algorithm names as sent in STARTUP.
const (
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// maxLZ4Ratio bounds the expansion of one LZ4 block.
const maxLZ4Ratio = 255

var (
	errShortLZ4Body = errors.New("lz4 body shorter than its length prefix")
	errLZ4Length    = errors.New("lz4 length prefix exceeds what the block can hold")
)

// Compressor compresses frame bodies for one STARTUP compression algorithm.
type Compressor interface {
	frame.BodyCompressor

	// Algorithm returns the name sent in the STARTUP COMPRESSION option.
	Algorithm() string
}

// SnappyCompressor compresses frame bodies with Snappy.
type SnappyCompressor struct{}

var _ Compressor = SnappyCompressor{}

// Algorithm implements Compressor.
func (SnappyCompressor) Algorithm() string { return CompressionSnappy }

// CompressWithLength implements frame.BodyCompressor. Snappy blocks carry
// their own length.
func (SnappyCompressor) CompressWithLength(source io.Reader, dest io.Writer) error {
	data, err := io.ReadAll(source)
	if err != nil {
		return err
	}

	_, err = dest.Write(snappy.Encode(nil, data))

	return err
}

// DecompressWithLength implements frame.BodyCompressor.
func (SnappyCompressor) DecompressWithLength(source io.Reader, dest io.Writer) error {
	data, err := io.ReadAll(source)
	if err != nil {
		return err
	}

	out, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("snappy: %w", err)
	}

	_, err = dest.Write(out)

	return err
}

// LZ4Compressor compresses frame bodies with LZ4 block compression.
//
// Bodies are prefixed with their uncompressed length as a 4-byte big-endian
// integer, as the native protocol requires.
type LZ4Compressor struct{}

var _ Compressor = LZ4Compressor{}

// Algorithm implements Compressor.
func (LZ4Compressor) Algorithm() string { return CompressionLZ4 }

// CompressWithLength implements frame.BodyCompressor.
func (LZ4Compressor) CompressWithLength(source io.Reader, dest io.Writer) error {
	data, err := io.ReadAll(source)
	if err != nil {
		return err
	}

	buf := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))

	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf[4:])
	if err != nil {
		return fmt.Errorf("lz4: %w", err)
	}
	if n == 0 && len(data) > 0 {
		return errors.New("lz4: block could not be compressed")
	}

	_, err = dest.Write(buf[:4+n])

	return err
}

// DecompressWithLength implements frame.BodyCompressor.
func (LZ4Compressor) DecompressWithLength(source io.Reader, dest io.Writer) error {
	data, err := io.ReadAll(source)
	if err != nil {
		return err
	}
	if len(data) < 4 {
		return fmt.Errorf("lz4: %w", errShortLZ4Body)
	}

	size := binary.BigEndian.Uint32(data)
	if size == 0 {
		return nil
	}
	if uint64(size) > uint64(len(data)-4)*maxLZ4Ratio {
		return fmt.Errorf("lz4: %w: %d bytes from a %d byte block", errLZ4Length, size, len(data)-4)
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return fmt.Errorf("lz4: %w", err)
	}

	_, err = dest.Write(out[:n])

	return err
}

// compressorFor returns the compressor for an algorithm name.
//
// Returns:
//   - Compressor: The compressor, nil for ""
//   - error: ErrUnsupportedCompression for unknown names
func compressorFor(algorithm string) (Compressor, error) {
	switch algorithm {
	case "":
		return nil, nil
	case CompressionSnappy:
		return SnappyCompressor{}, nil
	case CompressionLZ4:
		return LZ4Compressor{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedCompression, algorithm)
	}
}
