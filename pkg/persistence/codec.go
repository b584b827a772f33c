package persistence

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/d-lowl/cblit/pkg/session"
)

// ErrCorruptSession is returned when a stored blob fails to decompress, verify or decode.
var ErrCorruptSession = errors.New("stored session is corrupt")

// Encoders are safe for concurrent use and reused across calls.
//
//nolint:gochecknoglobals // Shared codec state initialised once
var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() { //nolint:gochecknoinits // Codec setup cannot fail at runtime
	var err error

	// Core deterministic encoding: the same document always yields the same
	// bytes, so the digest identifies content.
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("persistence: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}.DecMode()
	if err != nil {
		panic("persistence: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persistence: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persistence: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeDocument returns the compressed blob and the hex digest of its CBOR form.
func encodeDocument(doc *session.Document) ([]byte, string, error) {
	raw, err := encMode.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode session %s: %w", doc.ID, err)
	}
	return zstdEncoder.EncodeAll(raw, nil), digestOf(raw), nil
}

// decodeDocument reverses encodeDocument, verifying the digest before decoding.
func decodeDocument(blob []byte, digest string) (session.Document, error) {
	var doc session.Document

	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return doc, fmt.Errorf("%w: zstd decompress: %w", ErrCorruptSession, err)
	}
	if got := digestOf(raw); got != digest {
		return doc, fmt.Errorf("%w: digest %s does not match stored %s", ErrCorruptSession, got, digest)
	}
	if err := decMode.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("%w: cbor decode: %w", ErrCorruptSession, err)
	}
	return doc, nil
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
