package bucket

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Compression selects the codec applied to a whole segment stream.
type Compression string

const (
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
	CompressionNone   Compression = "none"
)

// ParseCompression validates a codec name. The empty string means snappy.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "":
		return CompressionSnappy, nil
	case CompressionSnappy, CompressionZstd, CompressionNone:
		return c, nil
	default:
		return "", errs.NewInvalidInputError("ParseCompression", fmt.Sprintf("unknown compression %q", s))
	}
}

const (
	segmentPrefix = "tuplejoin-"
	segmentSuffix = ".seg"
	ioBufferSize  = 64 << 10
	maxHeaderCols = 1 << 16
)

// segment is one spilled run. Layout, before compression:
//
//	int32  column count
//	column names, each uvarint length + bytes
//	int64  row count
//	rows, each a tagged tuple value
//
// The header columns are the declared schema of the first row and are
// reattached to every row whose columns match.
type segment struct {
	path  string
	rows  int64
	bytes int64
}

func newSegmentPath(dir string) string {
	return filepath.Join(dir, segmentPrefix+uuid.NewString()+segmentSuffix)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, errs.NewInvalidInputError("compressWriter", fmt.Sprintf("unknown compression %q", c))
	}
}

func decompressReader(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionSnappy:
		return snappy.NewReader(r), func() {}, nil
	case CompressionZstd:
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	case CompressionNone:
		return r, func() {}, nil
	default:
		return nil, nil, errs.NewInvalidInputError("decompressReader", fmt.Sprintf("unknown compression %q", c))
	}
}

func writeSegment(path string, c Compression, rows []*tuple.Tuple) (seg *segment, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create spill segment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	cw, err := compressWriter(f, c)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(cw, ioBufferSize)

	var columns []string
	if len(rows) > 0 {
		columns = rows[0].Columns()
	}
	var hdr []byte
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(columns)))
	for _, name := range columns {
		hdr = binary.AppendUvarint(hdr, uint64(len(name)))
		hdr = append(hdr, name...)
	}
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(len(rows)))
	if _, err = bw.Write(hdr); err != nil {
		return nil, fmt.Errorf("write segment header: %w", err)
	}

	enc := tuple.NewEncoder(bw)
	for _, row := range rows {
		if err = enc.EncodeValue(row); err != nil {
			return nil, err
		}
	}
	if err = bw.Flush(); err != nil {
		return nil, fmt.Errorf("flush spill segment: %w", err)
	}
	if err = cw.Close(); err != nil {
		return nil, fmt.Errorf("finish spill segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat spill segment: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("close spill segment: %w", err)
	}
	return &segment{path: path, rows: int64(len(rows)), bytes: info.Size()}, nil
}

// copySegment duplicates a segment file into dir.
func copySegment(seg *segment, dir string) (*segment, error) {
	src, err := os.Open(seg.path)
	if err != nil {
		return nil, fmt.Errorf("open spill segment: %w", err)
	}
	defer src.Close()

	path := newSegmentPath(dir)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create spill segment: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("copy spill segment: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close spill segment: %w", err)
	}
	return &segment{path: path, rows: seg.rows, bytes: seg.bytes}, nil
}

// segmentReader streams the rows of one segment.
type segmentReader struct {
	f         *os.File
	release   func()
	dec       *tuple.Decoder
	schema    []string
	remaining int64
}

func openSegment(seg *segment, c Compression) (*segmentReader, error) {
	f, err := os.Open(seg.path)
	if err != nil {
		return nil, fmt.Errorf("open spill segment: %w", err)
	}
	r, release, err := decompressReader(f, c)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	br := bufio.NewReaderSize(r, ioBufferSize)
	sr := &segmentReader{f: f, release: release, dec: tuple.NewDecoder(br)}
	if err := sr.readHeader(br, seg); err != nil {
		_ = sr.close()
		return nil, err
	}
	return sr, nil
}

func (r *segmentReader) readHeader(br *bufio.Reader, seg *segment) error {
	var fixed [8]byte
	if _, err := io.ReadFull(br, fixed[:4]); err != nil {
		return errs.NewDecodeError("openSegment", "read column count", err)
	}
	n := binary.BigEndian.Uint32(fixed[:4])
	if n > maxHeaderCols {
		return errs.NewDecodeError("openSegment", fmt.Sprintf("column count %d out of range", n), nil)
	}
	if n > 0 {
		r.schema = make([]string, n)
		for i := range r.schema {
			l, err := binary.ReadUvarint(br)
			if err != nil {
				return errs.NewDecodeError("openSegment", "read column name", err)
			}
			if l > maxHeaderCols {
				return errs.NewDecodeError("openSegment", fmt.Sprintf("column name length %d out of range", l), nil)
			}
			name := make([]byte, l)
			if _, err := io.ReadFull(br, name); err != nil {
				return errs.NewDecodeError("openSegment", "read column name", err)
			}
			r.schema[i] = string(name)
		}
	}
	if _, err := io.ReadFull(br, fixed[:8]); err != nil {
		return errs.NewDecodeError("openSegment", "read row count", err)
	}
	r.remaining = int64(binary.BigEndian.Uint64(fixed[:8]))
	if r.remaining != seg.rows {
		return errs.NewDecodeError("openSegment",
			fmt.Sprintf("segment %s holds %d rows, expected %d", filepath.Base(seg.path), r.remaining, seg.rows), nil)
	}
	return nil
}

// next returns io.EOF after the last row.
func (r *segmentReader) next() (*tuple.Tuple, error) {
	if r.remaining == 0 {
		return nil, io.EOF
	}
	v, err := r.dec.DecodeValue()
	if err == io.EOF {
		return nil, errs.NewDecodeError("segmentReader", "segment ended early", io.ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	t, ok := v.(*tuple.Tuple)
	if !ok {
		return nil, errs.NewDecodeError("segmentReader", fmt.Sprintf("expected tuple, got %T", v), nil)
	}
	if r.schema != nil && len(r.schema) == t.Len() {
		// Rows with other columns keep canonical order.
		_ = t.AttachSchema(r.schema)
	}
	r.remaining--
	return t, nil
}

func (r *segmentReader) close() error {
	if r.f == nil {
		return nil
	}
	r.release()
	err := r.f.Close()
	r.f = nil
	return err
}
