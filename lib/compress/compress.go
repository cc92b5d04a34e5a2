package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxDecodedSize bounds the output of Decompress.
const MaxDecodedSize = 16 << 20

// ICompressor compresses a serialized body before it is split into fragments.
type ICompressor interface {
	// Name returns the configuration name of the algorithm
	Name() string
	// Compress returns the compressed form of src
	Compress(src []byte) ([]byte, error)
	// Decompress reverses Compress. Outputs larger than MaxDecodedSize are rejected.
	Decompress(src []byte) ([]byte, error)
}

var factories = map[string]func() (ICompressor, error){
	"none":   func() (ICompressor, error) { return noneImpl{}, nil },
	"zstd":   newZstd,
	"s2":     func() (ICompressor, error) { return s2Impl{}, nil },
	"snappy": func() (ICompressor, error) { return snappyImpl{}, nil },
	"lz4":    func() (ICompressor, error) { return lz4Impl{}, nil },
	"flate":  func() (ICompressor, error) { return flateImpl{}, nil },
}

// New returns the compressor registered under name. An empty name selects "none".
func New(name string) (ICompressor, error) {
	if name == "" {
		name = "none"
	}
	factory, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown compression %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return factory()
}

// Names returns the registered algorithm names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func tooLarge(n int) error {
	return fmt.Errorf("decoded size %d exceeds the limit of %d bytes", n, MaxDecodedSize)
}

// --------------------------------------------------------------------------
// none
// --------------------------------------------------------------------------

type noneImpl struct{}

func (noneImpl) Name() string                          { return "none" }
func (noneImpl) Compress(src []byte) ([]byte, error)   { return src, nil }
func (noneImpl) Decompress(src []byte) ([]byte, error) { return src, nil }

// --------------------------------------------------------------------------
// zstd
// --------------------------------------------------------------------------

// zstdImpl keeps one encoder and decoder; EncodeAll and DecodeAll are safe
// for concurrent use.
type zstdImpl struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd() (ICompressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(MaxDecodedSize),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		return nil, err
	}
	return &zstdImpl{enc: enc, dec: dec}, nil
}

func (z *zstdImpl) Name() string { return "zstd" }

func (z *zstdImpl) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdImpl) Decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// --------------------------------------------------------------------------
// s2 / snappy
// --------------------------------------------------------------------------

type s2Impl struct{}

func (s2Impl) Name() string { return "s2" }

func (s2Impl) Compress(src []byte) ([]byte, error) {
	return s2.EncodeBetter(nil, src), nil
}

func (s2Impl) Decompress(src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n > MaxDecodedSize {
		return nil, tooLarge(n)
	}
	return s2.Decode(nil, src)
}

type snappyImpl struct{}

func (snappyImpl) Name() string { return "snappy" }

func (snappyImpl) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyImpl) Decompress(src []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n > MaxDecodedSize {
		return nil, tooLarge(n)
	}
	return snappy.Decode(nil, src)
}

// --------------------------------------------------------------------------
// lz4
// --------------------------------------------------------------------------

// lz4Impl uses the block format. The block is prefixed with a uvarint of
// (decoded length << 1 | raw), raw is set if the input did not compress and
// is stored as is.
type lz4Impl struct{}

func (lz4Impl) Name() string { return "lz4" }

func (lz4Impl) Compress(src []byte) ([]byte, error) {
	prefix := binary.AppendUvarint(nil, uint64(len(src))<<1)
	dst := make([]byte, len(prefix)+lz4.CompressBlockBound(len(src)))
	copy(dst, prefix)

	n, err := lz4.CompressBlock(src, dst[len(prefix):], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(src) {
		raw := binary.AppendUvarint(nil, uint64(len(src))<<1|1)
		return append(raw, src...), nil
	}
	return dst[:len(prefix)+n], nil
}

func (lz4Impl) Decompress(src []byte) ([]byte, error) {
	v, k := binary.Uvarint(src)
	if k <= 0 {
		return nil, fmt.Errorf("lz4: invalid length prefix")
	}
	size, raw := v>>1, v&1 == 1
	if size > MaxDecodedSize {
		return nil, tooLarge(int(size))
	}
	body := src[k:]

	if raw {
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("lz4: raw block of %d bytes, expected %d", len(body), size)
		}
		return append([]byte{}, body...), nil
	}

	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, err
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("lz4: decoded %d bytes, expected %d", n, size)
	}
	return dst, nil
}

// --------------------------------------------------------------------------
// flate
// --------------------------------------------------------------------------

type flateImpl struct{}

func (flateImpl) Name() string { return "flate" }

func (flateImpl) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (flateImpl) Decompress(src []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDecodedSize {
		return nil, tooLarge(len(out))
	}
	return out, nil
}
