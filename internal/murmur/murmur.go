// Package murmur computes Murmur3Partitioner tokens.
//
// The hash is the first half of MurmurHash3 x64 128 with seed 0, using the
// sign extended tail bytes of the server's implementation so tokens match
// the ones stored in system.local and system.peers.
package murmur

import (
	"encoding/binary"
	"math/bits"
)

const (
	c1 = 0x87c37b91114253d5
	c2 = 0x4cf5ad432745937f
)

// Token returns the Murmur3Partitioner token of a partition key.
func Token(key []byte) int64 {
	return H1(key)
}

// H1 returns the first 64 bits of the 128 bit MurmurHash3 of data.
func H1(data []byte) int64 {
	length := len(data)
	nBlocks := length / 16

	var h1, h2 uint64

	for i := 0; i < nBlocks; i++ {
		k1 := binary.LittleEndian.Uint64(data[i*16:])
		k2 := binary.LittleEndian.Uint64(data[i*16+8:])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := data[nBlocks*16:]
	var k1, k2 uint64

	switch length & 15 {
	case 15:
		k2 ^= uint64(int8(tail[14])) << 48
		fallthrough
	case 14:
		k2 ^= uint64(int8(tail[13])) << 40
		fallthrough
	case 13:
		k2 ^= uint64(int8(tail[12])) << 32
		fallthrough
	case 12:
		k2 ^= uint64(int8(tail[11])) << 24
		fallthrough
	case 11:
		k2 ^= uint64(int8(tail[10])) << 16
		fallthrough
	case 10:
		k2 ^= uint64(int8(tail[9])) << 8
		fallthrough
	case 9:
		k2 ^= uint64(int8(tail[8]))

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		fallthrough
	case 8:
		k1 ^= uint64(int8(tail[7])) << 56
		fallthrough
	case 7:
		k1 ^= uint64(int8(tail[6])) << 48
		fallthrough
	case 6:
		k1 ^= uint64(int8(tail[5])) << 40
		fallthrough
	case 5:
		k1 ^= uint64(int8(tail[4])) << 32
		fallthrough
	case 4:
		k1 ^= uint64(int8(tail[3])) << 24
		fallthrough
	case 3:
		k1 ^= uint64(int8(tail[2])) << 16
		fallthrough
	case 2:
		k1 ^= uint64(int8(tail[1])) << 8
		fallthrough
	case 1:
		k1 ^= uint64(int8(tail[0]))

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(length)
	h2 ^= uint64(length)

	h1 += h2
	h2 += h1

	h1 = fmix(h1)
	h2 = fmix(h2)

	h1 += h2

	return int64(h1)
}

func fmix(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33

	return k
}
