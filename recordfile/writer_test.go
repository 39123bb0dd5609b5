// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// enc builds little-endian on-disk structures for tests.
type enc struct{ b []byte }

func (e *enc) u16(v uint16) *enc {
	e.b = binary.LittleEndian.AppendUint16(e.b, v)
	return e
}

func (e *enc) u32(v uint32) *enc {
	e.b = binary.LittleEndian.AppendUint32(e.b, v)
	return e
}

func (e *enc) u64(v uint64) *enc {
	e.b = binary.LittleEndian.AppendUint64(e.b, v)
	return e
}

func (e *enc) raw(p []byte) *enc {
	e.b = append(e.b, p...)
	return e
}

func (e *enc) str0(s string) *enc {
	e.b = append(e.b, s...)
	e.b = append(e.b, 0)
	return e
}

// testAttr describes one attribute table entry of a synthetic file.
type testAttr struct {
	format SampleFormat
	flags  EventFlags
	ids    []uint64
}

const testAttrStride = 80

// buildFile encodes a whole record file: header, attribute table, ID
// lists, data section, feature section table, and feature payloads.
func buildFile(attrs []testAttr, records [][]byte, features map[Feature][]byte) []byte {
	attrsOff := uint64(fileHeaderSize)
	attrsSize := uint64(len(attrs) * testAttrStride)

	idOff := attrsOff + attrsSize
	idSections := make([]FileSection, len(attrs))
	for i, a := range attrs {
		idSections[i] = FileSection{idOff, uint64(len(a.ids) * 8)}
		idOff += uint64(len(a.ids) * 8)
	}

	dataOff := idOff
	var dataSize uint64
	for _, r := range records {
		dataSize += uint64(len(r))
	}

	var featIDs []Feature
	for fid := range features {
		featIDs = append(featIDs, fid)
	}
	sort.Slice(featIDs, func(i, j int) bool { return featIDs[i] < featIDs[j] })
	payloadOff := dataOff + dataSize + uint64(16*len(featIDs))

	e := &enc{}
	e.raw([]byte(fileMagic))
	e.u16(fileHeaderSize).u16(testAttrStride).u16(0)
	e.u64(attrsOff).u64(attrsSize)
	e.u64(dataOff).u64(dataSize)
	var bitmap [numFeatureBytes]byte
	for _, fid := range featIDs {
		bitmap[fid/8] |= 1 << (uint(fid) % 8)
	}
	e.raw(bitmap[:])

	for i, a := range attrs {
		e.u32(uint32(EventTypeHardware)).u32(attrV0Size)
		e.u64(0)    // config
		e.u64(4000) // sample period
		e.u64(uint64(a.format)).u64(0).u64(uint64(a.flags))
		e.u32(1).u32(0).u64(0)
		e.u64(idSections[i].Offset).u64(idSections[i].Size)
	}
	for _, a := range attrs {
		for _, id := range a.ids {
			e.u64(id)
		}
	}
	for _, r := range records {
		e.raw(r)
	}
	off := payloadOff
	for _, fid := range featIDs {
		e.u64(off).u64(uint64(len(features[fid])))
		off += uint64(len(features[fid]))
	}
	for _, fid := range featIDs {
		e.raw(features[fid])
	}
	return e.b
}

func encRecord(typ RecordType, misc uint16, payload []byte) []byte {
	e := &enc{}
	e.u32(uint32(typ)).u16(misc).u16(uint16(recordHeaderSize + len(payload))).raw(payload)
	return e.b
}

// encSample encodes a sample for format IP|TID|Time.
func encSample(ip uint64, pid, tid uint32, time uint64) []byte {
	e := &enc{}
	e.u64(ip).u32(pid).u32(tid).u64(time)
	return encRecord(RecordTypeSample, uint16(CPUModeUser), e.b)
}

// encTrailer encodes a sample_id trailer for format TID|Time.
func encTrailer(pid, tid uint32, time uint64) []byte {
	e := &enc{}
	e.u32(pid).u32(tid).u64(time)
	return e.b
}

func encComm(pid, tid uint32, comm string, trailer []byte) []byte {
	e := &enc{}
	e.u32(pid).u32(tid).str0(comm).raw(trailer)
	return encRecord(RecordTypeComm, 0, e.b)
}

func encFork(pid, ppid, tid, ptid uint32, time uint64, trailer []byte) []byte {
	e := &enc{}
	e.u32(pid).u32(ppid).u32(tid).u32(ptid).u64(time).raw(trailer)
	return encRecord(RecordTypeFork, 0, e.b)
}

// encStringFeature encodes a length-prefixed NUL-terminated string
// feature payload.
func encStringFeature(s string) []byte {
	e := &enc{}
	e.u32(uint32(len(s) + 1)).str0(s)
	return e.b
}

// encCmdlineFeature encodes a cmdline feature payload.
func encCmdlineFeature(args ...string) []byte {
	e := &enc{}
	e.u32(uint32(len(args)))
	for _, a := range args {
		e.u32(uint32(len(a) + 1)).str0(a)
	}
	return e.b
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perf.data")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// openTestFile builds, writes, and opens a synthetic record file.
func openTestFile(t *testing.T, attrs []testAttr, records [][]byte, features map[Feature][]byte) *File {
	t.Helper()
	f, err := Open(writeTempFile(t, buildFile(attrs, records, features)))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// defaultAttrs is the common single-event configuration: timestamps on
// samples and on every other record.
func defaultAttrs() []testAttr {
	return []testAttr{{
		format: SampleFormatIP | SampleFormatTID | SampleFormatTime,
		flags:  EventFlagSampleIDAll,
	}}
}
