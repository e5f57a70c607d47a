// Package binarray implements BinArrayStore, the append-only columnar
// binary file format of spec §4.1 and §6: a byte-exact header (rank,
// shape) followed by row-major float32 records.
package binarray

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

const headerRankSize = 4 // int32 rank

// Store is a BinArrayStore: one open file holding a rank-r float32
// tensor whose first dimension is the record count.
//
// A Store is not safe for concurrent use; spec §4.1 calls for one
// writer, one reader at a time. BatchTrainer parallelism is achieved
// by giving each key its own Store (spec §5).
type Store struct {
	path string
	file *os.File

	hasShape bool
	shape    []int // shape[0] is unused for size purposes
	recSize  int   // product(shape[1:])

	posRecords int64 // current record position
}

// Open creates parent directories if needed and opens path read-write,
// creating it if it does not exist. If the file already has a header,
// it is read immediately (open-on-first-use union contract, spec §9
// Open Question 1).
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("binarray: mkdir %q: %w: %v", filepath.Dir(path), coreerr.IOError, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("binarray: open %q: %w: %v", path, coreerr.IOError, err)
	}

	s := &Store{path: path, file: f}
	if err := s.readHeaderIfPresent(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// CreateByKey translates a dotted key "a.b.c" into the file
// root/a/b/c/data.bin and opens it.
func CreateByKey(root, key string) (*Store, error) {
	return Open(PathForKey(root, key))
}

// PathForKey returns the file path for a dotted key under root,
// without opening anything.
func PathForKey(root, key string) string {
	parts := strings.Split(key, ".")
	elems := append([]string{root}, parts...)
	elems = append(elems, "data.bin")
	return filepath.Join(elems...)
}

func (s *Store) readHeaderIfPresent() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("binarray: stat %q: %w: %v", s.path, coreerr.IOError, err)
	}
	if info.Size() < headerRankSize {
		return nil
	}

	var rankBuf [headerRankSize]byte
	if _, err := s.file.ReadAt(rankBuf[:], 0); err != nil {
		return fmt.Errorf("binarray: read rank %q: %w: %v", s.path, coreerr.IOError, err)
	}
	rank := int(int32(binary.BigEndian.Uint32(rankBuf[:])))
	if rank <= 0 {
		return nil
	}

	shapeBuf := make([]byte, 8*rank)
	if _, err := s.file.ReadAt(shapeBuf, headerRankSize); err != nil {
		return fmt.Errorf("binarray: read shape %q: %w: %v", s.path, coreerr.IOError, err)
	}
	shape := make([]int, rank)
	for i := 0; i < rank; i++ {
		shape[i] = int(int64(binary.BigEndian.Uint64(shapeBuf[i*8 : i*8+8])))
	}
	s.setShape(shape)
	return nil
}

func (s *Store) setShape(shape []int) {
	s.shape = shape
	s.recSize = 1
	for _, d := range shape[1:] {
		s.recSize *= d
	}
	s.hasShape = true
}

func (s *Store) headerSize() int64 {
	return int64(headerRankSize + 8*len(s.shape))
}

// Write appends array's records to the store. On the first write, the
// header is written from array's shape. Subsequent writes require
// every dimension after the first to match the header's.
func (s *Store) Write(array *tensor.Tensor) error {
	shape := array.Shape()
	if len(shape) == 0 {
		return fmt.Errorf("binarray: cannot write a rank-0 tensor: %w", coreerr.ShapeMismatch)
	}

	if !s.hasShape {
		s.setShape(shape)
		if err := s.writeHeader(); err != nil {
			return err
		}
	} else if !sameSuffix(s.shape, shape) {
		return fmt.Errorf("binarray: write shape %v conflicts with header shape %v for %q: %w",
			shape, s.shape, s.path, coreerr.ShapeMismatch)
	}

	size, err := s.Size()
	if err != nil {
		return err
	}
	offset := s.headerSize() + size*int64(s.recSize)*4
	data := array.Data()
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("binarray: write %q: %w: %v", s.path, coreerr.IOError, err)
	}
	return nil
}

func (s *Store) writeHeader() error {
	buf := make([]byte, s.headerSize())
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(len(s.shape))))
	for i, d := range s.shape {
		binary.BigEndian.PutUint64(buf[4+i*8:4+i*8+8], uint64(int64(d)))
	}
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("binarray: write header %q: %w: %v", s.path, coreerr.IOError, err)
	}
	return nil
}

func sameSuffix(header, write []int) bool {
	if len(header) != len(write) {
		return false
	}
	for i := 1; i < len(header); i++ {
		if header[i] != write[i] {
			return false
		}
	}
	return true
}

// Read returns up to n records starting at the current position, or
// nil if no records remain. The returned tensor's first dimension
// equals the number of records actually read.
func (s *Store) Read(n int) (*tensor.Tensor, error) {
	return s.ReadAs(n, tensor.Float)
}

// ReadAs behaves like Read but tags the returned Tensor with kind,
// used for integer-coded columns such as actions.
func (s *Store) ReadAs(n int, kind tensor.Kind) (*tensor.Tensor, error) {
	if !s.hasShape {
		return nil, fmt.Errorf("binarray: read %q before any header is set: %w", s.path, coreerr.MissingShape)
	}
	avail := s.Available()
	if avail <= 0 {
		return nil, nil
	}
	toRead := n
	if toRead > avail {
		toRead = avail
	}

	offset := s.headerSize() + s.posRecords*int64(s.recSize)*4
	buf := make([]byte, toRead*s.recSize*4)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("binarray: read %q: %w: %v", s.path, coreerr.IOError, err)
	}

	out := make([]float32, toRead*s.recSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4 : i*4+4]))
	}
	shape := append([]int{toRead}, s.shape[1:]...)
	s.posRecords += int64(toRead)

	t, err := tensor.New(kind, shape, out)
	if err != nil {
		return nil, fmt.Errorf("binarray: building read result for %q: %w", s.path, err)
	}
	return t, nil
}

// Seek moves the current position to record index i.
func (s *Store) Seek(i int64) error {
	if i < 0 {
		return fmt.Errorf("binarray: negative seek index %d for %q", i, s.path)
	}
	if !s.hasShape {
		return fmt.Errorf("binarray: seek %q before any header is set: %w", s.path, coreerr.MissingShape)
	}
	s.posRecords = i
	return nil
}

// Position returns the current record position.
func (s *Store) Position() int64 { return s.posRecords }

// Size returns the total number of records currently stored.
func (s *Store) Size() (int64, error) {
	if !s.hasShape {
		return 0, nil
	}
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("binarray: stat %q: %w: %v", s.path, coreerr.IOError, err)
	}
	payload := info.Size() - s.headerSize()
	if payload < 0 || s.recSize == 0 {
		return 0, nil
	}
	return payload / int64(s.recSize*4), nil
}

// Shape returns the header shape (shape[0] is unused for size), or
// nil if no header has been set yet.
func (s *Store) Shape() []int {
	if !s.hasShape {
		return nil
	}
	out := make([]int, len(s.shape))
	copy(out, s.shape)
	return out
}

// Available returns the number of unread records remaining from the
// current position.
func (s *Store) Available() int {
	size, err := s.Size()
	if err != nil {
		return 0
	}
	remaining := size - s.posRecords
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// Clear resets the position and the on-disk shape header: the next
// Write re-establishes the shape (spec §9 Open Question 1).
func (s *Store) Clear() error {
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("binarray: truncate %q: %w: %v", s.path, coreerr.IOError, err)
	}
	s.hasShape = false
	s.shape = nil
	s.recSize = 0
	s.posRecords = 0
	return nil
}

// Flush forces any OS-buffered writes to stable storage.
func (s *Store) Flush() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("binarray: sync %q: %w: %v", s.path, coreerr.IOError, err)
	}
	return nil
}

// Close closes the underlying file. Close is idempotent (spec §9 Open
// Question 1): calling it again returns nil.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("binarray: close %q: %w: %v", s.path, coreerr.IOError, err)
	}
	return nil
}
