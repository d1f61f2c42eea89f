package pbf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompressionLevel sets the zlib level used for new blobs.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithRawBlobs makes the Writer store records uncompressed.
func WithRawBlobs() WriterOption {
	return func(w *Writer) {
		w.raw = true
	}
}

// Writer frames records into a PBF stream.
type Writer struct {
	w     io.Writer
	level int
	raw   bool

	written int64
	blocks  int64
}

// NewWriter returns a Writer that appends blocks to w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	wr := &Writer{w: w, level: zlib.DefaultCompression}
	for _, opt := range opts {
		opt(wr)
	}
	return wr
}

// BytesWritten is the total number of bytes written so far.
func (w *Writer) BytesWritten() int64 {
	return w.written
}

// Blocks is the number of blocks written so far.
func (w *Writer) Blocks() int64 {
	return w.blocks
}

// WriteRecord serializes rec, compresses it and writes it as one block.
func (w *Writer) WriteRecord(rec Record) error {
	return w.WritePayload(rec.Kind(), nil, rec.Marshal())
}

// WritePayload compresses an already serialized record and writes it as one
// block. Bytes are written as given, so fields the decoder does not model
// survive a read/write cycle.
func (w *Writer) WritePayload(kind string, indexData, raw []byte) error {
	var blob Blob
	if w.raw {
		if len(raw) >= MaxRawSize {
			return newError(KindSizeLimitExceeded, "write record", "record of %d bytes >= %d", len(raw), MaxRawSize)
		}
		blob = RawBlob(raw)
	} else {
		var err error
		blob, err = EncodeBlob(raw, w.level)
		if err != nil {
			return fmt.Errorf("failed to compress %s record: %w", kind, err)
		}
	}
	return w.writeBlob(kind, indexData, blob)
}

// WriteBlock writes an already framed block without re-encoding its blob.
func (w *Writer) WriteBlock(b *Block) error {
	return w.writeBlob(b.Kind, b.IndexData, b.Blob)
}

func (w *Writer) writeBlob(kind string, indexData []byte, blob Blob) error {
	body := marshalBlob(blob)
	if len(body) >= MaxBlobSize {
		return newError(KindSizeLimitExceeded, "write block", "blob of %d bytes >= %d", len(body), MaxBlobSize)
	}

	header := marshalBlobHeader(kind, indexData, int32(len(body)))
	if len(header) >= MaxHeaderSize {
		return newError(KindSizeLimitExceeded, "write block", "header of %d bytes >= %d", len(header), MaxHeaderSize)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(header)))

	for _, part := range [][]byte{prefix[:], header, body} {
		n, err := w.w.Write(part)
		w.written += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write block: %w", err)
		}
	}
	w.blocks++
	return nil
}
