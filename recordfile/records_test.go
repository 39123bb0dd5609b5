// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordHappensBefore(t *testing.T) {
	sample := func(time uint64) Record {
		r := &RecordSample{}
		r.Time = time
		return r
	}
	nonSample := func(time uint64) Record {
		r := &RecordComm{}
		r.Time = time
		return r
	}

	for _, tc := range []struct {
		name   string
		r1, r2 Record
		want   bool
	}{
		{"Earlier time first", sample(100), sample(200), true},
		{"Later time second", sample(200), sample(100), false},
		{"Non-sample before sample at equal time", nonSample(100), sample(100), true},
		{"Sample not before non-sample at equal time", sample(100), nonSample(100), false},
		{"Equal time and class is not before", sample(100), sample(100), false},
		{"Non-sample ordering uses time too", nonSample(200), sample(100), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, recordHappensBefore(tc.r1, tc.r2))
		})
	}
}

func TestDecodeRecordBounds(t *testing.T) {
	attr := &EventAttr{
		SampleFormat: SampleFormatIP | SampleFormatTID | SampleFormatTime,
		Flags:        EventFlagSampleIDAll,
	}
	f := &File{idToAttr: map[attrID]*EventAttr{0: attr}, idOffset: -1}

	t.Run("Sample payload too short", func(t *testing.T) {
		hdr := recordHeader{Type: RecordTypeSample, Size: recordHeaderSize + 8}
		_, err := f.decodeRecord(attr, hdr, (&enc{}).u64(0x1000).b)
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("Trailer larger than payload", func(t *testing.T) {
		hdr := recordHeader{Type: RecordTypeComm, Size: recordHeaderSize + 4}
		_, err := f.decodeRecord(attr, hdr, (&enc{}).u32(1).b)
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("Decoded strings do not alias the payload", func(t *testing.T) {
		payload := (&enc{}).u32(1).u32(1).str0("init").raw(encTrailer(1, 1, 5)).b
		hdr := recordHeader{Type: RecordTypeComm, Size: uint16(recordHeaderSize + len(payload))}
		r, err := f.decodeRecord(attr, hdr, payload)
		require.NoError(t, err)

		comm := r.(*RecordComm)
		require.Equal(t, "init", comm.Comm)

		// Clobber the payload, as reusing or unmapping the file
		// would; the record must be unaffected.
		for i := range payload {
			payload[i] = 0xff
		}
		require.Equal(t, "init", comm.Comm)
		require.Equal(t, uint64(5), comm.Time)
	})

	t.Run("Callchain decoded", func(t *testing.T) {
		cattr := &EventAttr{SampleFormat: SampleFormatTime | SampleFormatCallchain}
		cf := &File{idToAttr: map[attrID]*EventAttr{0: cattr}, idOffset: -1}

		payload := (&enc{}).u64(30).u64(3).u64(0x10).u64(0x20).u64(0x30).b
		hdr := recordHeader{Type: RecordTypeSample, Size: uint16(recordHeaderSize + len(payload))}
		r, err := cf.decodeRecord(cattr, hdr, payload)
		require.NoError(t, err)

		sample := r.(*RecordSample)
		require.Equal(t, uint64(30), sample.Time)
		require.Equal(t, []uint64{0x10, 0x20, 0x30}, sample.Callchain)
	})

	t.Run("Branch stack decoded", func(t *testing.T) {
		battr := &EventAttr{SampleFormat: SampleFormatBranchStack}
		bf := &File{idToAttr: map[attrID]*EventAttr{0: battr}, idOffset: -1}

		payload := (&enc{}).u64(1).u64(0x100).u64(0x200).u64(1).b
		hdr := recordHeader{Type: RecordTypeSample, Size: uint16(recordHeaderSize + len(payload))}
		r, err := bf.decodeRecord(battr, hdr, payload)
		require.NoError(t, err)

		sample := r.(*RecordSample)
		require.Equal(t, []BranchRecord{{From: 0x100, To: 0x200, Flags: 1}}, sample.BranchStack)
	})

	t.Run("Oversized array counts", func(t *testing.T) {
		// Counts that overflow an int multiply, or read as
		// negative, must fail before anything is allocated.
		cattr := &EventAttr{SampleFormat: SampleFormatCallchain}
		cf := &File{idToAttr: map[attrID]*EventAttr{0: cattr}, idOffset: -1}
		battr := &EventAttr{SampleFormat: SampleFormatBranchStack}
		bf := &File{idToAttr: map[attrID]*EventAttr{0: battr}, idOffset: -1}

		for _, count := range []uint64{4, 1 << 32, 1 << 61, 1 << 63, ^uint64(0)} {
			payload := (&enc{}).u64(count).u64(0x10).b
			hdr := recordHeader{Type: RecordTypeSample, Size: uint16(recordHeaderSize + len(payload))}

			_, err := cf.decodeRecord(cattr, hdr, payload)
			require.ErrorIs(t, err, ErrTruncated, "callchain count %d", count)

			_, err = bf.decodeRecord(battr, hdr, payload)
			require.ErrorIs(t, err, ErrTruncated, "branch stack count %d", count)
		}
	})

	t.Run("Unknown payload is a copy", func(t *testing.T) {
		payload := append([]byte{1, 2, 3, 4}, encTrailer(1, 1, 5)...)
		hdr := recordHeader{Type: RecordType(77), Size: uint16(recordHeaderSize + len(payload))}
		r, err := f.decodeRecord(attr, hdr, payload)
		require.NoError(t, err)

		unk := r.(*RecordUnknown)
		payload[0] = 0xff
		require.Equal(t, byte(1), unk.Data[0])
	})
}
