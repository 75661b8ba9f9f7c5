// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package pagecache presents Seek/Read/Write/Truncate/Flush against an
// underlying *os.File, backed by an in-memory page cache of a configurable
// byte budget. It is the engine's one suspension point: every blocking call
// the core makes passes through here.
//
// The cache itself is a map of page number to page bytes protected by a
// mutex, in the shape of aergoio/hashtabledb's cacheBucket page table — the
// only page-cache design anywhere in the retrieval pack — generalized from a
// fixed page-table use case into a general-purpose byte-range cache.
package pagecache

import (
	"container/list"
	"fmt"
	"os"
	"sync"

	"github.com/kvstore/filehash/internal/zero"
)

const pageSize = 4096

// defaultCacheSize matches the teacher's defaultBufferSize for its bufio
// writers (internal/dataio.defaultBufferSize, datafile.defaultBufferSize).
const defaultCacheSize = 4 * 1024 * 1024

// File is a cached random-access view of an *os.File.
type File struct {
	f        *os.File
	readOnly bool

	mu        sync.Mutex
	pages     map[int64]*list.Element // page number -> lru element
	lru       *list.List              // front = most recently used
	cacheSize int                     // byte budget
	cached    int                     // bytes currently cached

	pos    int64 // current position for the io.Reader/io.Writer/io.Seeker surface
	length int64 // cached file length
}

type page struct {
	no   int64
	data []byte // always pageSize bytes
}

// Open wraps f in a cache with the given byte budget (0 selects the default).
func Open(f *os.File, cacheSize int, readOnly bool) (*File, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pagecache.Open: Stat: %w", err)
	}
	return &File{
		f:         f,
		readOnly:  readOnly,
		pages:     make(map[int64]*list.Element),
		lru:       list.New(),
		cacheSize: cacheSize,
		length:    info.Size(),
	}, nil
}

// Len reports the current file length.
func (c *File) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// ReadAt reads len(b) bytes starting at off.
func (c *File) ReadAt(b []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readAtLocked(b, off)
}

func (c *File) readAtLocked(b []byte, off int64) (int, error) {
	read := 0
	for read < len(b) {
		pageNo := (off + int64(read)) / pageSize
		pageOff := (off + int64(read)) % pageSize
		pg, err := c.fetchLocked(pageNo)
		if err != nil {
			return read, err
		}
		n := copy(b[read:], pg.data[pageOff:])
		read += n
	}
	return read, nil
}

// WriteAt writes len(b) bytes starting at off, updating cached pages and the
// underlying file (the cache is write-through: flush durability relies only
// on calling Flush, not on any dirty-page tracking).
func (c *File) WriteAt(b []byte, off int64) (int, error) {
	if c.readOnly {
		return 0, fmt.Errorf("pagecache: file is read-only")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.f.WriteAt(b, off); err != nil {
		return 0, fmt.Errorf("pagecache: WriteAt: %w", err)
	}
	if end := off + int64(len(b)); end > c.length {
		c.length = end
	}

	written := 0
	for written < len(b) {
		pageNo := (off + int64(written)) / pageSize
		pageOff := (off + int64(written)) % pageSize
		if el, ok := c.pages[pageNo]; ok {
			pg := el.Value.(*page)
			n := copy(pg.data[pageOff:], b[written:])
			c.lru.MoveToFront(el)
			written += n
		} else {
			// not cached: skip ahead to the next page boundary without
			// populating the cache for a pure write.
			n := pageSize - int(pageOff)
			if n > len(b)-written {
				n = len(b) - written
			}
			written += n
		}
	}
	return written, nil
}

func (c *File) fetchLocked(pageNo int64) (*page, error) {
	if el, ok := c.pages[pageNo]; ok {
		c.lru.MoveToFront(el)
		return el.Value.(*page), nil
	}

	buf := make([]byte, pageSize)
	n, err := c.f.ReadAt(buf, pageNo*pageSize)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("pagecache: ReadAt(page=%d): %w", pageNo, err)
	}
	if n < pageSize {
		zero.Bytes(buf[n:])
	}
	pg := &page{no: pageNo, data: buf}
	el := c.lru.PushFront(pg)
	c.pages[pageNo] = el
	c.cached += pageSize

	for c.cached > c.cacheSize && c.lru.Len() > 1 {
		back := c.lru.Back()
		evicted := back.Value.(*page)
		c.lru.Remove(back)
		delete(c.pages, evicted.no)
		c.cached -= pageSize
	}

	return pg, nil
}

// Truncate resizes the underlying file, dropping any now out-of-range cached
// pages.
func (c *File) Truncate(size int64) error {
	if c.readOnly {
		return fmt.Errorf("pagecache: file is read-only")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Truncate(size); err != nil {
		return fmt.Errorf("pagecache: Truncate: %w", err)
	}
	c.length = size

	lastPage := (size + pageSize - 1) / pageSize
	for no, el := range c.pages {
		if no >= lastPage {
			c.lru.Remove(el)
			delete(c.pages, no)
			c.cached -= pageSize
		}
	}
	return nil
}

// Flush makes all prior writes durable; the journal protocol's ordering
// guarantees depend on this being a real fsync boundary.
func (c *File) Flush() error {
	if c.readOnly {
		return nil
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("pagecache: Sync: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (c *File) Close() error {
	if !c.readOnly {
		if err := c.Flush(); err != nil {
			return err
		}
	}
	return c.f.Close()
}

// Seek/Read/Write implement the stream-oriented surface item enumeration
// uses to walk the item section sequentially.

func (c *File) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch whence {
	case 0:
		c.pos = offset
	case 1:
		c.pos += offset
	case 2:
		c.pos = c.length + offset
	default:
		return 0, fmt.Errorf("pagecache: invalid whence %d", whence)
	}
	return c.pos, nil
}

func (c *File) Read(b []byte) (int, error) {
	c.mu.Lock()
	pos := c.pos
	c.mu.Unlock()

	n, err := c.ReadAt(b, pos)
	c.mu.Lock()
	c.pos += int64(n)
	c.mu.Unlock()
	return n, err
}

func (c *File) Write(b []byte) (int, error) {
	c.mu.Lock()
	pos := c.pos
	c.mu.Unlock()

	n, err := c.WriteAt(b, pos)
	c.mu.Lock()
	c.pos += int64(n)
	c.mu.Unlock()
	return n, err
}
