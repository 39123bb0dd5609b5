// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileMap holds a whole file mapped read-only. All decoding happens
// over the mapped bytes; the rest of the package borrows views into
// data and must not outlive the map.
type fileMap struct {
	f    *os.File
	data []byte
}

// openFileMap opens name and maps its full contents read-only. The
// descriptor is closed on every failure path.
func openFileMap(name string) (*fileMap, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrTruncated)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", name, err)
	}
	return &fileMap{f: f, data: data}, nil
}

// bytes returns the mapped extent. It returns nil after close.
func (m *fileMap) bytes() []byte {
	return m.data
}

// close releases the mapping and the descriptor. It is safe to call
// more than once; only the first call releases anything.
func (m *fileMap) close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	err := unix.Munmap(data)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// section returns the bytes referenced by s as a view into the
// mapping. An out-of-range descriptor is a corruption error.
func (m *fileMap) section(s FileSection) ([]byte, error) {
	if m.data == nil {
		return nil, ErrClosed
	}
	end := s.Offset + s.Size
	if end < s.Offset || end > uint64(len(m.data)) {
		return nil, fmt.Errorf("%w: section [%d, %d) outside file of %d bytes",
			ErrTruncated, s.Offset, end, len(m.data))
	}
	return m.data[s.Offset:end], nil
}
