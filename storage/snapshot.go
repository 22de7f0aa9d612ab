package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4"
	"lukechampine.com/blake3"
)

// ErrChecksum reports a snapshot file whose digest no longer matches its
// payload.
var ErrChecksum = errors.New("snapshot checksum mismatch")

const checksumSize = 32

// SaveSnapshotFile compresses a raw snapshot message with LZ4 and writes
// it into the data directory, prefixed with a BLAKE3 digest of the
// compressed payload.
func SaveSnapshotFile(name string, raw []byte) error {
	compressed, err := compressLZ4(raw)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	sum := blake3.Sum256(compressed)
	out := make([]byte, 0, checksumSize+len(compressed))
	out = append(out, sum[:]...)
	out = append(out, compressed...)
	return WriteDataFile(name, out, 0o644)
}

// LoadSnapshotFile reads a snapshot file back, verifying the digest
// before decompressing. A corrupt file fails with ErrChecksum.
func LoadSnapshotFile(name string) ([]byte, error) {
	data, err := ReadDataFile(name)
	if err != nil {
		return nil, err
	}
	return decodeSnapshotFile(data)
}

// LoadSnapshotPath is LoadSnapshotFile for a file outside the data
// directory, e.g. one passed on the command line.
func LoadSnapshotPath(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeSnapshotFile(data)
}

func decodeSnapshotFile(data []byte) ([]byte, error) {
	if len(data) < checksumSize {
		return nil, fmt.Errorf("%w: file shorter than digest", ErrChecksum)
	}

	sum := blake3.Sum256(data[checksumSize:])
	if !bytes.Equal(sum[:], data[:checksumSize]) {
		return nil, ErrChecksum
	}

	raw, err := decompressLZ4(data[checksumSize:])
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return raw, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)

	_, err := writer.Write(data)
	if err != nil {
		writer.Close()
		return nil, err
	}

	err = writer.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	var buf bytes.Buffer
	_, err := io.Copy(&buf, reader)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
