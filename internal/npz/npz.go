// Package npz reads and writes NumPy .npy arrays bundled in a deflated zip,
// the layout numpy.savez_compressed produces. Only little-endian float32,
// float64 and int64 arrays in C order are supported. Entries are decoded
// with npyio; the writer emits N-dimensional headers itself because npyio
// infers shapes from Go values and cannot express a (F, H, W) stack.
package npz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/sbinet/npyio"
)

const (
	DtypeFloat32 = "<f4"
	DtypeFloat64 = "<f8"
	DtypeInt64   = "<i8"

	// MaxElements bounds the element count of a single decoded array.
	MaxElements = 1 << 28
)

var (
	ErrFormat = errors.New("npy format")
	npyMagic  = []byte("\x93NUMPY")
)

// Array is one named entry. Exactly one of the data slices is populated,
// matching Dtype.
type Array struct {
	Dtype   string
	Shape   []int
	Float32 []float32
	Float64 []float64
	Int64   []int64
}

func Float32(shape []int, data []float32) Array {
	return Array{Dtype: DtypeFloat32, Shape: shape, Float32: data}
}

func Float64(shape []int, data []float64) Array {
	return Array{Dtype: DtypeFloat64, Shape: shape, Float64: data}
}

func Int64(shape []int, data []int64) Array {
	return Array{Dtype: DtypeInt64, Shape: shape, Int64: data}
}

// Len is the number of elements implied by Shape, or -1 when the shape is
// invalid or larger than MaxElements.
func (a Array) Len() int {
	n, err := checkedLen(a.Shape)
	if err != nil {
		return -1
	}
	return n
}

// Floats widens the array to float64 regardless of its stored dtype.
func (a Array) Floats() []float64 {
	switch a.Dtype {
	case DtypeFloat32:
		out := make([]float64, len(a.Float32))
		for i, v := range a.Float32 {
			out[i] = float64(v)
		}
		return out
	case DtypeFloat64:
		return append([]float64(nil), a.Float64...)
	case DtypeInt64:
		out := make([]float64, len(a.Int64))
		for i, v := range a.Int64 {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}

func (a Array) dataLen() int {
	switch a.Dtype {
	case DtypeFloat32:
		return len(a.Float32)
	case DtypeFloat64:
		return len(a.Float64)
	case DtypeInt64:
		return len(a.Int64)
	}
	return -1
}

// WriteFile writes arrays to path as a compressed archive. Entries are
// stored in key order with zero timestamps so output is byte-stable.
func WriteFile(path string, arrays map[string]Array) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, arrays); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Write(w io.Writer, arrays map[string]Array) error {
	keys := make([]string, 0, len(arrays))
	for key := range arrays {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	zw := zip.NewWriter(w)
	for _, key := range keys {
		entry, err := zw.CreateHeader(&zip.FileHeader{Name: key + ".npy", Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("create %s: %w", key, err)
		}
		if err := WriteNPY(entry, arrays[key]); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	return zw.Close()
}

// WriteNPY encodes a single array in .npy format version 1.0.
func WriteNPY(w io.Writer, a Array) error {
	if a.dataLen() < 0 {
		return fmt.Errorf("%w: unsupported dtype %q", ErrFormat, a.Dtype)
	}
	n, err := checkedLen(a.Shape)
	if err != nil {
		return err
	}
	if a.dataLen() != n {
		return fmt.Errorf("%w: shape %v needs %d elements, have %d", ErrFormat, a.Shape, n, a.dataLen())
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", a.Dtype, shapeString(a.Shape))
	// magic(6) + version(2) + length(2) + header + '\n' is padded to 64.
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := (64 - total%64) % 64; pad > 0 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("%w: header too long", ErrFormat)
	}

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	switch a.Dtype {
	case DtypeFloat32:
		return binary.Write(w, binary.LittleEndian, a.Float32)
	case DtypeFloat64:
		return binary.Write(w, binary.LittleEndian, a.Float64)
	default:
		return binary.Write(w, binary.LittleEndian, a.Int64)
	}
}

func shapeString(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.Itoa(shape[0]) + ",)"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ReadFile loads every .npy entry of an archive keyed by name without the
// extension.
func ReadFile(path string) (map[string]Array, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readEntries(zr.File)
}

// Read loads an archive from memory.
func Read(r io.ReaderAt, size int64) (map[string]Array, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return readEntries(zr.File)
}

func readEntries(files []*zip.File) (map[string]Array, error) {
	out := make(map[string]Array, len(files))
	for _, f := range files {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		a, err := ReadNPY(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out[strings.TrimSuffix(f.Name, ".npy")] = a
	}
	return out, nil
}

// ReadNPY decodes one .npy stream (format 1.x or 2.x). The shape is checked
// against MaxElements before any data is allocated.
func ReadNPY(r io.Reader) (Array, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return Array{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	descr := nr.Header.Descr
	switch descr.Type {
	case DtypeFloat32, DtypeFloat64, DtypeInt64:
	default:
		return Array{}, fmt.Errorf("%w: unsupported dtype %q", ErrFormat, descr.Type)
	}
	if descr.Fortran {
		return Array{}, fmt.Errorf("%w: fortran order not supported", ErrFormat)
	}
	if _, err := checkedLen(descr.Shape); err != nil {
		return Array{}, err
	}

	a := Array{Dtype: descr.Type, Shape: append([]int(nil), descr.Shape...)}
	switch a.Dtype {
	case DtypeFloat32:
		err = nr.Read(&a.Float32)
	case DtypeFloat64:
		err = nr.Read(&a.Float64)
	case DtypeInt64:
		err = nr.Read(&a.Int64)
	}
	if err != nil {
		return Array{}, fmt.Errorf("%w: data: %v", ErrFormat, err)
	}
	if a.dataLen() != a.Len() {
		return Array{}, fmt.Errorf("%w: shape %v needs %d elements, read %d", ErrFormat, a.Shape, a.Len(), a.dataLen())
	}
	return a, nil
}

// checkedLen multiplies out a shape, failing on negative dimensions and on
// products that overflow or exceed MaxElements.
func checkedLen(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrFormat, shape)
		}
		if d > 0 && n > MaxElements/d {
			return 0, fmt.Errorf("%w: shape %v exceeds %d elements", ErrFormat, shape, MaxElements)
		}
		n *= d
	}
	return n, nil
}
