package pbf

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Decode returns the serialized record bytes held by the blob.
//
// Raw blobs are returned as is. Zlib blobs are inflated and the result must
// be exactly RawSize bytes long. Every other encoding is rejected with
// KindUnsupportedEncoding.
func (b Blob) Decode() ([]byte, error) {
	switch b.Encoding {
	case EncodingRaw:
		return b.Data, nil
	case EncodingZlib:
		return b.inflate()
	case EncodingNone:
		return nil, newError(KindUnsupportedEncoding, "decode blob", "blob has no data field")
	default:
		return nil, newError(KindUnsupportedEncoding, "decode blob", "%s compression is not implemented", b.Encoding)
	}
}

func (b Blob) inflate() ([]byte, error) {
	const op = "inflate blob"
	if !b.HasRawSize {
		return nil, newError(KindSchemaViolation, op, "zlib blob without raw_size")
	}
	if b.RawSize < 0 {
		return nil, newError(KindSchemaViolation, op, "negative raw_size %d", b.RawSize)
	}
	if b.RawSize >= MaxRawSize {
		return nil, newError(KindSizeLimitExceeded, op, "raw_size %d >= %d", b.RawSize, MaxRawSize)
	}

	zr, err := zlib.NewReader(bytes.NewReader(b.Data))
	if err != nil {
		return nil, inflateError(op, err)
	}
	defer zr.Close()

	// One byte of slack so an over-long stream is noticed.
	out := bytes.NewBuffer(make([]byte, 0, int(b.RawSize)+1))
	n, err := io.Copy(out, io.LimitReader(zr, int64(b.RawSize)+1))
	if err != nil {
		return nil, inflateError(op, err)
	}
	if n != int64(b.RawSize) {
		return nil, newError(KindSizeMismatch, op, "inflated %d bytes, raw_size declares %d", n, b.RawSize)
	}
	return out.Bytes(), nil
}

func inflateError(op string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return wrapError(KindSizeMismatch, op, err)
	}
	return wrapError(KindCorrupt, op, err)
}

// EncodeBlob compresses raw with zlib at the given level and records its
// true length as RawSize.
func EncodeBlob(raw []byte, level int) (Blob, error) {
	const op = "encode blob"
	if len(raw) >= MaxRawSize {
		return Blob{}, newError(KindSizeLimitExceeded, op, "record of %d bytes >= %d", len(raw), MaxRawSize)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return Blob{}, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return Blob{}, err
	}
	if err := zw.Close(); err != nil {
		return Blob{}, err
	}

	return Blob{
		Encoding:   EncodingZlib,
		Data:       buf.Bytes(),
		RawSize:    int32(len(raw)),
		HasRawSize: true,
	}, nil
}

// RawBlob wraps raw without compression.
func RawBlob(raw []byte) Blob {
	return Blob{Encoding: EncodingRaw, Data: raw}
}
