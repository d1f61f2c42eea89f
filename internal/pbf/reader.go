package pbf

import (
	"encoding/binary"
	"errors"
	"io"
	"iter"

	"go.uber.org/zap"
)

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for soft-limit warnings and skipped blocks.
func WithLogger(log *zap.Logger) Option {
	return func(r *Reader) {
		if log != nil {
			r.log = log
		}
	}
}

// WithSkipUnknown controls what happens to blocks whose kind is neither
// OSMHeader nor OSMData. When true (the default) they are dropped, as the
// format requires of readers. When false they are returned and fail later
// in DecodeRecord.
func WithSkipUnknown(skip bool) Option {
	return func(r *Reader) {
		r.skipUnknown = skip
	}
}

// Reader frames a PBF stream into blocks, one at a time. It never reads
// ahead of the block being returned. After the first error every call
// returns that error.
type Reader struct {
	r           io.Reader
	log         *zap.Logger
	skipUnknown bool

	offset int64
	err    error
	prefix [4]byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{
		r:           r,
		log:         zap.NewNop(),
		skipUnknown: true,
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns the next block. It returns io.EOF when the input ends
// exactly at a block boundary.
func (r *Reader) Next() (*Block, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		b, err := r.readBlock()
		if err != nil {
			r.err = err
			return nil, err
		}
		if !b.Known() && r.skipUnknown {
			r.log.Debug("Skipping block of unknown kind",
				zap.String("kind", b.Kind),
				zap.Int64("offset", b.Offset),
				zap.Int32("datasize", b.DataSize))
			continue
		}
		return b, nil
	}
}

// All iterates over the remaining blocks. Iteration ends at a clean end of
// input, or after yielding the first error.
func (r *Reader) All() iter.Seq2[*Block, error] {
	return func(yield func(*Block, error) bool) {
		for {
			b, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Rewind restarts the stream from its first byte. The underlying reader
// must be an io.Seeker.
func (r *Reader) Rewind() error {
	s, ok := r.r.(io.Seeker)
	if !ok {
		return errors.New("pbf: rewind: source is not seekable")
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.offset = 0
	r.err = nil
	return nil
}

func (r *Reader) readBlock() (*Block, error) {
	start := r.offset

	n, err := io.ReadFull(r.r, r.prefix[:])
	r.offset += int64(n)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.readError("read header length", start, err)
	}

	headerLen := binary.BigEndian.Uint32(r.prefix[:])
	if headerLen >= MaxHeaderSize {
		e := newError(KindSizeLimitExceeded, "read header length", "header length %d >= %d", headerLen, MaxHeaderSize)
		e.Offset = start
		return nil, e
	}
	if headerLen >= RecommendedHeaderSize {
		r.log.Warn("Blob header larger than recommended",
			zap.Uint32("length", headerLen), zap.Int64("offset", start))
	}

	headerBuf := make([]byte, headerLen)
	n, err = io.ReadFull(r.r, headerBuf)
	r.offset += int64(n)
	if err != nil {
		return nil, r.readError("read header", start, err)
	}

	h, err := decodeBlobHeader(headerBuf)
	if err != nil {
		return nil, withOffset(err, start)
	}
	if h.dataSize < 0 {
		e := newError(KindSchemaViolation, "read header", "negative datasize %d", h.dataSize)
		e.Offset = start
		return nil, e
	}
	if h.dataSize >= MaxBlobSize {
		e := newError(KindSizeLimitExceeded, "read header", "datasize %d >= %d", h.dataSize, MaxBlobSize)
		e.Offset = start
		return nil, e
	}

	payload := make([]byte, h.dataSize)
	n, err = io.ReadFull(r.r, payload)
	r.offset += int64(n)
	if err != nil {
		return nil, r.readError("read blob", start, err)
	}

	blob, err := decodeBlob(payload)
	if err != nil {
		return nil, withOffset(err, start)
	}
	if blob.HasRawSize && blob.RawSize >= RecommendedRawSize {
		r.log.Warn("Blob raw size larger than recommended",
			zap.Int32("raw_size", blob.RawSize), zap.Int64("offset", start))
	}

	return &Block{
		Kind:         h.kind,
		HeaderLength: int(headerLen),
		DataSize:     h.dataSize,
		Offset:       start,
		IndexData:    h.indexData,
		Blob:         blob,
	}, nil
}

// readError maps a failed read inside a block to a truncation error. Other
// I/O errors are passed through unchanged.
func (r *Reader) readError(op string, offset int64, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{Kind: KindTruncation, Op: op, Offset: offset, Err: io.ErrUnexpectedEOF}
	}
	return err
}
