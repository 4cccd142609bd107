package bucketleak

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

const (
	// corpusMagic identifies corpus files ("BLCR" in little-endian).
	corpusMagic = uint32(0x52434C42)

	// corpusVersion is the current corpus format version.
	corpusVersion = uint16(0x0001)

	// corpusHeaderSize is the fixed header: magic(4) + version(2) +
	// reserved(2).
	corpusHeaderSize = 8
)

// corpusRecord is one recorded round-trip exchange. Digest covers request
// then response bytes and detects torn or tampered records at open time.
type corpusRecord struct {
	Modulus  uint64 `cbor:"modulus"`
	Pattern  uint8  `cbor:"pattern"`
	Request  []byte `cbor:"request"`
	Response []byte `cbor:"response"`
	Digest   uint64 `cbor:"digest"`
}

func exchangeDigest(request, response []byte) uint64 {
	h := xxh3.New()
	_, _ = h.Write(request)
	_, _ = h.Write(response)
	return h.Sum64()
}

// Recorder persists round-trip exchanges to a zstd-compressed record
// stream, so a captured target session can be re-analyzed offline without
// the target. Safe for concurrent use; the engine records from parallel
// per-modulus goroutines.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	zw     *zstd.Encoder
	enc    *cbor.Encoder
	closed bool
}

// NewRecorder creates (or truncates) a corpus file at path and writes the
// header.
func NewRecorder(path string) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create corpus file: %w", err)
	}

	header := make([]byte, corpusHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], corpusMagic)
	binary.LittleEndian.PutUint16(header[4:6], corpusVersion)
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write corpus header: %w", err)
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create corpus compressor: %w", err)
	}
	return &Recorder{file: file, zw: zw, enc: encMode.NewEncoder(zw)}, nil
}

// Record appends one exchange.
func (r *Recorder) Record(modulus uint64, pattern Pattern, request, response []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return bkerrors.ErrRecorderClosed
	}
	rec := corpusRecord{
		Modulus:  modulus,
		Pattern:  uint8(pattern),
		Request:  request,
		Response: response,
		Digest:   exchangeDigest(request, response),
	}
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode corpus record: %w", err)
	}
	return nil
}

// Close flushes the compressed stream and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.zw.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("flush corpus: %w", err)
	}
	return r.file.Close()
}

// Corpus is a read-only recorded session. It implements RoundTripper by
// serving the recorded response for each request, so a full engine run can
// be replayed against a capture.
type Corpus struct {
	records   []corpusRecord
	responses map[uint64][]byte // request digest -> response
}

// OpenCorpus memory-maps and validates a corpus file. The mapping is
// released before returning; all record data is decoded into memory.
func OpenCorpus(path string) (*Corpus, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer file.Close()

	m, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("map corpus file: %w", err)
	}
	defer m.Unmap()

	return readCorpus(m)
}

func readCorpus(data []byte) (*Corpus, error) {
	if len(data) < corpusHeaderSize {
		return nil, fmt.Errorf("%w: file shorter than header", bkerrors.ErrInvalidMagic)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != corpusMagic {
		return nil, bkerrors.ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(data[4:6]) != corpusVersion {
		return nil, bkerrors.ErrInvalidVersion
	}

	zr, err := zstd.NewReader(bytes.NewReader(data[corpusHeaderSize:]))
	if err != nil {
		return nil, fmt.Errorf("open corpus compressor: %w", err)
	}
	defer zr.Close()

	corpus := &Corpus{responses: make(map[uint64][]byte)}
	dec := decMode.NewDecoder(zr)
	for {
		var rec corpusRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode corpus record %d: %w", len(corpus.records), err)
		}
		if rec.Digest != exchangeDigest(rec.Request, rec.Response) {
			return nil, fmt.Errorf("%w: record %d", bkerrors.ErrCorruptedCorpus, len(corpus.records))
		}
		corpus.records = append(corpus.records, rec)
		corpus.responses[xxh3.Hash(rec.Request)] = rec.Response
	}
	return corpus, nil
}

// Len returns the number of recorded exchanges.
func (c *Corpus) Len() int {
	return len(c.records)
}

// RoundTrip serves the recorded response for the request. Requests never
// seen during recording fail with ErrUnknownRequest; the archive encoding
// is deterministic, so an identical engine configuration reproduces the
// recorded requests byte for byte.
func (c *Corpus) RoundTrip(_ context.Context, archive []byte) ([]byte, error) {
	response, ok := c.responses[xxh3.Hash(archive)]
	if !ok {
		return nil, bkerrors.ErrUnknownRequest
	}
	return response, nil
}
