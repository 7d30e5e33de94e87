// Package compress implements the chunk compression codecs from spec §6:
// a legacy gzip format kept for backward compatibility, a zstd binary
// format for new writes, and an optional dictionary-trained zstd variant
// for taxonomy-grouped chunks that share a lot of structure.
package compress

import (
	"bytes"
	"compress/gzip"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/config"
)

// FormatTag identifies which codec produced a blob, recorded alongside it
// so a reader can decompress without being told the format out of band.
type FormatTag int

const (
	// JsonGzip is the legacy format kept for compatibility with chunks
	// written before the zstd migration.
	JsonGzip FormatTag = iota
	// Binary is plain zstd, the default for new writes.
	Binary
	// BinaryDict is zstd compressed against a trained dictionary,
	// identified by DictID.
	BinaryDict
	// Snappy is the codec RocksDBConfig's "snappy" compression setting
	// selects for the hot-path configs (spec §9 performance profiles).
	Snappy
	// LZ4 is the codec RocksDBConfig's "lz4" compression setting selects
	// for the streaming/low-latency profiles.
	LZ4
)

func (f FormatTag) String() string {
	switch f {
	case JsonGzip:
		return "json_gzip"
	case Binary:
		return "binary"
	case BinaryDict:
		return "binary_dict"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectFormat inspects a blob's magic bytes to recover its format tag
// when one was not recorded out of band. Unrecognized data defaults to
// JsonGzip, matching the legacy reader's historical fallback.
func DetectFormat(data []byte) FormatTag {
	if bytes.HasPrefix(data, zstdMagic) {
		return Binary
	}
	if bytes.HasPrefix(data, gzipMagic) {
		return JsonGzip
	}
	return JsonGzip
}

// Codec compresses and decompresses chunk payloads for one format.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Tag() FormatTag
}

// TagForConfig maps a RocksDBConfig.Compression setting to the FormatTag
// a blob.Store should compress new chunks with, so the storage.rocksdb
// knob actually governs chunk compression instead of being logged as
// advisory-only. "none" and an unrecognized setting fall back to zstd,
// matching kv.Store's own treatment of compression as a preference bolt
// has no native enforcement hook for.
func TagForConfig(c config.Compression) FormatTag {
	switch c {
	case config.CompressionSnappy:
		return Snappy
	case config.CompressionLZ4:
		return LZ4
	default:
		return Binary
	}
}

// NewCodec returns the codec for tag, using dict as the trained
// dictionary when tag is BinaryDict (dict may be nil for other tags).
func NewCodec(tag FormatTag, level int, dict []byte) Codec {
	switch tag {
	case JsonGzip:
		return gzipCodec{}
	case BinaryDict:
		return zstdCodec{level: level, dict: dict}
	case Snappy:
		return snappyCodec{}
	case LZ4:
		return lz4Codec{level: level}
	default:
		return zstdCodec{level: level}
	}
}

type gzipCodec struct{}

func (gzipCodec) Tag() FormatTag { return JsonGzip }

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, casgerr.IoError(err, "writing gzip stream")
	}
	if err := w.Close(); err != nil {
		return nil, casgerr.IoError(err, "closing gzip stream")
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, casgerr.Corrupted("malformed gzip stream: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, casgerr.Corrupted("truncated gzip stream: %v", err)
	}
	return out, nil
}

type zstdCodec struct {
	level int
	dict  []byte
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// rawDictID derives the frame dictionary ID for a raw-content dictionary
// (as TrainDictionary builds) from its bytes, so encoder and decoder agree
// on it. The low bit is set because zstd reserves ID 0 for "no dictionary".
func rawDictID(dict []byte) uint32 {
	return crc32.ChecksumIEEE(dict) | 1
}

func (c zstdCodec) Tag() FormatTag {
	if len(c.dict) > 0 {
		return BinaryDict
	}
	return Binary
}

func (c zstdCodec) Compress(data []byte) ([]byte, error) {
	opts := []zstd.EOption{zstd.WithEncoderLevel(zstdLevel(c.level))}
	if len(c.dict) > 0 {
		opts = append(opts, zstd.WithEncoderDictRaw(rawDictID(c.dict), c.dict))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "constructing zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (c zstdCodec) Decompress(data []byte) ([]byte, error) {
	opts := []zstd.DOption{}
	if len(c.dict) > 0 {
		opts = append(opts, zstd.WithDecoderDictRaw(rawDictID(c.dict), c.dict))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "constructing zstd decoder")
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, casgerr.Corrupted("malformed zstd stream: %v", err)
	}
	return out, nil
}

// snappyCodec backs RocksDBConfig's "snappy" compression setting (the
// Development preset's setting), using the block format
// so compressed blobs carry their own length framing.
type snappyCodec struct{}

func (snappyCodec) Tag() FormatTag { return Snappy }

func (snappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, casgerr.Corrupted("malformed snappy block: %v", err)
	}
	return out, nil
}

// lz4Codec backs RocksDBConfig's "lz4" compression setting. level is
// bucketed the way zstdLevel buckets zstd's: 1 or less selects lz4.Fast,
// 2 to 6 selects lz4.Level6, anything higher lz4.Level9.
type lz4Codec struct{ level int }

func (lz4Codec) Tag() FormatTag { return LZ4 }

func (c lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	opts := []lz4.Option{lz4.CompressionLevelOption(lz4CompressionLevel(c.level))}
	if err := w.Apply(opts...); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "configuring lz4 writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, casgerr.IoError(err, "writing lz4 stream")
	}
	if err := w.Close(); err != nil {
		return nil, casgerr.IoError(err, "closing lz4 stream")
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, casgerr.Corrupted("malformed lz4 stream: %v", err)
	}
	return out, nil
}

func lz4CompressionLevel(level int) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Fast
	case level <= 6:
		return lz4.Level6
	default:
		return lz4.Level9
	}
}
