package vectorindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

// Artifact names inside an index directory. Both are always written and read
// together.
const (
	MatrixFile = "vectors.idx"
	MetaFile   = "meta.json"
)

// Matrix file layout, little-endian:
//
//	header (32 bytes): magic u32 | version u16 | reserved u16 | rows u32 |
//	                   dim u32 | createdAt i64 | metaCRC u32 | reserved u32
//	data:              rows*dim float32
//	footer (8 bytes):  crc32(header+data) u32 | magic u32
//
// metaCRC is the IEEE crc32 of the companion meta.json, which ties the two
// artifacts to the same save.
const (
	MagicBytes    uint32 = 0x52564543 // "RVEC"
	FormatVersion uint16 = 1
	HeaderSize           = 32
	FooterSize           = 8
)

type matrixHeader struct {
	Rows      uint32
	Dim       uint32
	CreatedAt int64
	MetaCRC   uint32
}

func encodeMatrix(h matrixHeader, data []float32) []byte {
	buf := make([]byte, HeaderSize+4*len(data)+FooterSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicBytes)
	binary.LittleEndian.PutUint16(buf[4:6], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.Rows)
	binary.LittleEndian.PutUint32(buf[12:16], h.Dim)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint32(buf[24:28], h.MetaCRC)
	off := HeaderSize
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], crc32.ChecksumIEEE(buf[:off]))
	binary.LittleEndian.PutUint32(buf[off+4:off+8], MagicBytes)
	return buf
}

func decodeMatrix(buf []byte) (matrixHeader, []float32, error) {
	var h matrixHeader
	if len(buf) < HeaderSize+FooterSize {
		return h, nil, fmt.Errorf("%w: matrix file truncated (%d bytes)", apperrors.ErrIndexCorrupt, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != MagicBytes {
		return h, nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrIndexCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != FormatVersion {
		return h, nil, fmt.Errorf("%w: unsupported format version %d", apperrors.ErrIndexCorrupt, v)
	}
	h = matrixHeader{
		Rows:      binary.LittleEndian.Uint32(buf[8:12]),
		Dim:       binary.LittleEndian.Uint32(buf[12:16]),
		CreatedAt: int64(binary.LittleEndian.Uint64(buf[16:24])),
		MetaCRC:   binary.LittleEndian.Uint32(buf[24:28]),
	}
	n := uint64(h.Rows) * uint64(h.Dim)
	if uint64(len(buf)) != HeaderSize+4*n+FooterSize {
		return h, nil, fmt.Errorf("%w: %dx%d matrix does not match file size %d",
			apperrors.ErrIndexCorrupt, h.Rows, h.Dim, len(buf))
	}
	end := len(buf) - FooterSize
	if binary.LittleEndian.Uint32(buf[end+4:]) != MagicBytes {
		return h, nil, fmt.Errorf("%w: bad footer magic", apperrors.ErrIndexCorrupt)
	}
	if sum := binary.LittleEndian.Uint32(buf[end : end+4]); sum != crc32.ChecksumIEEE(buf[:end]) {
		return h, nil, fmt.Errorf("%w: matrix checksum mismatch", apperrors.ErrIndexCorrupt)
	}
	data := make([]float32, n)
	for i, off := 0, HeaderSize; i < len(data); i, off = i+1, off+4 {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return h, data, nil
}

// writeTemp writes data to path+".tmp" and fsyncs it, returning the temp path.
func writeTemp(path string, data []byte) (string, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Base(tmp), err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("syncing %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
