// Package compress encodes blob bytes into self-describing, checksummed
// frames for the spill tier.
//
// Frame layout (little endian):
//
//	[magic "BSF1"][codec u8][pad 3][raw size u64][stored size u64][crc32c u32][data...]
//
// The checksum covers the raw bytes. A stored size of zero means the data
// is kept uncompressed because compression did not help.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/bulkstore/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec defines the compression algorithm used.
type Codec uint8

const (
	// None stores data as is.
	None Codec = 0
	// LZ4 is fast block compression.
	LZ4 Codec = 1
	// ZSTD gives a better ratio at higher CPU cost.
	ZSTD Codec = 2
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// ParseCodec maps a name ("none", "lz4", "zstd") to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("compress: unknown codec %q", s)
	}
}

var (
	// ErrCorrupt is returned when a frame fails validation.
	ErrCorrupt = errors.New("compress: corrupt frame")
	// ErrChecksum is returned when the frame checksum does not match.
	ErrChecksum = errors.New("compress: checksum mismatch")
)

const (
	frameMagic      = "BSF1"
	frameHeaderSize = 4 + 4 + 8 + 8 + 4
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode builds a frame holding data.
func Encode(codec Codec, data []byte) ([]byte, error) {
	var packed []byte
	switch codec {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n] // n == 0: incompressible
	case ZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}

	// If compression doesn't help (ratio > 0.9), store uncompressed
	stored := uint64(len(packed))
	body := packed
	if stored == 0 || float64(stored) > float64(len(data))*0.9 {
		stored = 0
		body = data
	}

	out := make([]byte, frameHeaderSize+len(body))
	copy(out, frameMagic)
	out[4] = byte(codec)
	binary.LittleEndian.PutUint64(out[8:], uint64(len(data)))
	binary.LittleEndian.PutUint64(out[16:], stored)
	binary.LittleEndian.PutUint32(out[24:], hash.CRC32C(data))
	copy(out[frameHeaderSize:], body)
	return out, nil
}

// RawSize returns the decoded size recorded in a frame header.
func RawSize(frame []byte) (int, error) {
	if len(frame) < frameHeaderSize || string(frame[:4]) != frameMagic {
		return 0, ErrCorrupt
	}
	return int(binary.LittleEndian.Uint64(frame[8:])), nil
}

// Decode writes the frame's data into dst, which must be RawSize bytes.
func Decode(frame, dst []byte) error {
	raw, err := RawSize(frame)
	if err != nil {
		return err
	}
	if len(dst) != raw {
		return fmt.Errorf("%w: destination is %d bytes, frame holds %d", ErrCorrupt, len(dst), raw)
	}
	codec := Codec(frame[4])
	stored := binary.LittleEndian.Uint64(frame[16:])
	sum := binary.LittleEndian.Uint32(frame[24:])
	body := frame[frameHeaderSize:]

	switch {
	case stored == 0:
		if len(body) != raw {
			return ErrCorrupt
		}
		copy(dst, body)
	case uint64(len(body)) != stored:
		return ErrCorrupt
	case codec == LZ4:
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != raw {
			return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
	case codec == ZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(body, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(decoded) != raw {
			return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
	default:
		return ErrCorrupt
	}

	if !hash.Verify(dst, sum) {
		return ErrChecksum
	}
	return nil
}
