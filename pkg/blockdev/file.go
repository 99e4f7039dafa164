package blockdev

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// fileMeta is the sidecar descriptor written next to the data file,
// recording the geometry of the most recent open. newFileStore only
// writes it: on reopen the existing sidecar is not read or compared, and
// the data file is resized to the new geometry without complaint.
type fileMeta struct {
	BlockSize int    `json:"block_size"`
	NumBlocks uint64 `json:"num_blocks"`
}

// fileStore is a blockStore backed by one flat file, addressed by
// number*blockSize byte offsets.
type fileStore struct {
	mu        sync.Mutex
	f         *os.File
	blockSize int
}

// newFileStore opens (creating if necessary) the data file at path, sizes
// it to blockSize*numBlocks, and atomically (re)writes its metadata
// sidecar at path+".meta.json" via [atomic.WriteFile].
func newFileStore(path string, blockSize int, numBlocks uint64) (*fileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	size := int64(blockSize) * int64(numBlocks)

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: size %s to %d bytes: %w", path, size, err)
	}

	meta, err := json.Marshal(fileMeta{BlockSize: blockSize, NumBlocks: numBlocks})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: marshal metadata for %s: %w", path, err)
	}

	if err := atomic.WriteFile(path+".meta.json", bytes.NewReader(meta)); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: write metadata for %s: %w", path, err)
	}

	return &fileStore{f: f, blockSize: blockSize}, nil
}

func (fs *fileStore) readBlock(number uint64, size int) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	buf := make([]byte, size)

	n, err := fs.f.ReadAt(buf, int64(number)*int64(fs.blockSize))
	if err != nil && !(err == io.EOF && n == len(buf)) {
		if err == io.EOF {
			// Short read past current file length: treat the missing tail
			// as zero, matching a block that was sized but never written.
			return buf, nil
		}

		return nil, err
	}

	return buf, nil
}

func (fs *fileStore) writeBlock(number uint64, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.f.WriteAt(data, int64(number)*int64(fs.blockSize))

	return err
}

func (fs *fileStore) flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.f.Sync()
}

func (fs *fileStore) close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.f.Close()
}

// NewFile returns a Device backed by a single flat file at path, sized to
// cfg.BlockSize*cfg.NumBlocks bytes.
func NewFile(path string, cfg Config) (Device, error) {
	store, err := newFileStore(path, cfg.BlockSize, cfg.NumBlocks)
	if err != nil {
		return nil, err
	}

	return newBase(store, cfg), nil
}
