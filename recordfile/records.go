// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import (
	"encoding/binary"
	"fmt"
)

// decodeRecord decodes one record's payload under the governing event
// attribute. Every scalar a record keeps is copied out of payload, so
// records stay valid after the mapping is released.
func (f *File) decodeRecord(attr *EventAttr, hdr recordHeader, payload []byte) (Record, error) {
	bd := &bufDecoder{payload, binary.LittleEndian, nil}

	var common RecordCommon
	if attr.Flags&EventFlagSampleIDAll != 0 && hdr.Type != RecordTypeSample {
		if err := f.parseCommon(attr, bd, &common); err != nil {
			return nil, err
		}
	}

	var r Record
	switch hdr.Type {
	default:
		// Unknown record type. Keep the raw payload so callers
		// can decode types this package does not know about,
		// and so the walk makes forward progress.
		r = &RecordUnknown{hdr, common, append([]byte(nil), payload...)}

	case RecordTypeMmap:
		r = parseMmap(bd, hdr, &common)

	case RecordTypeLost:
		r = f.parseLost(bd, &common)

	case RecordTypeComm:
		r = parseComm(bd, hdr, &common)

	case RecordTypeExit:
		r = parseExit(bd, &common)

	case RecordTypeFork:
		r = parseFork(bd, &common)

	case RecordTypeSample:
		r = f.parseSample(attr, bd, hdr)
	}
	if bd.err != nil {
		return nil, fmt.Errorf("%s record: %w", hdr.Type, bd.err)
	}
	return r, nil
}

// parseCommon parses the sample_id structure in the trailer of
// non-sample records.
func (f *File) parseCommon(attr *EventAttr, bd *bufDecoder, o *RecordCommon) error {
	t := attr.SampleFormat
	trailer := t.trailerBytes()
	if trailer > bd.remaining() {
		return fmt.Errorf("%w: %d-byte sample_id trailer in %d-byte payload", ErrTruncated, trailer, bd.remaining())
	}

	// Resolve the record's event attribute from the ID field.
	if off := t.recordIDOffset(); off == -1 {
		o.ID = 0
	} else {
		o.ID = attrID(bd.order.Uint64(bd.buf[bd.remaining()+off:]))
	}
	o.EventAttr = f.idToAttr[o.ID]

	// Decode the trailer without consuming the payload in front of
	// it.
	tbd := &bufDecoder{bd.buf[bd.remaining()-trailer:], bd.order, nil}
	o.Format = t
	o.PID = int(tbd.i32If(t&SampleFormatTID != 0))
	o.TID = int(tbd.i32If(t&SampleFormatTID != 0))
	o.Time = tbd.u64If(t&SampleFormatTime != 0)
	tbd.u64If(t&SampleFormatID != 0)
	o.StreamID = tbd.u64If(t&SampleFormatStreamID != 0)
	o.CPU = tbd.u32If(t&SampleFormatCPU != 0)
	o.Res = tbd.u32If(t&SampleFormatCPU != 0)

	// Keep the trailer out of the type-specific payload.
	bd.buf = bd.buf[:bd.remaining()-trailer]
	return tbd.err
}

func parseMmap(bd *bufDecoder, hdr recordHeader, common *RecordCommon) Record {
	o := &RecordMmap{RecordCommon: *common}
	o.Format |= SampleFormatTID

	o.Data = hdr.Misc&recordMiscMmapData != 0

	o.PID, o.TID = int(bd.i32()), int(bd.i32())
	o.Addr, o.Len, o.FileOffset = bd.u64(), bd.u64(), bd.u64()
	o.Filename = bd.cstring()

	return o
}

func (f *File) parseLost(bd *bufDecoder, common *RecordCommon) Record {
	o := &RecordLost{RecordCommon: *common}
	o.Format |= SampleFormatID

	o.ID = attrID(bd.u64())
	o.EventAttr = f.idToAttr[o.ID]
	o.NumLost = bd.u64()

	return o
}

func parseComm(bd *bufDecoder, hdr recordHeader, common *RecordCommon) Record {
	o := &RecordComm{RecordCommon: *common}
	o.Format |= SampleFormatTID

	o.Exec = hdr.Misc&recordMiscCommExec != 0

	o.PID, o.TID = int(bd.i32()), int(bd.i32())
	o.Comm = bd.cstring()

	return o
}

func parseExit(bd *bufDecoder, common *RecordCommon) Record {
	o := &RecordExit{RecordCommon: *common}
	o.Format |= SampleFormatTID | SampleFormatTime

	o.PID, o.PPID = int(bd.i32()), int(bd.i32())
	o.TID, o.PTID = int(bd.i32()), int(bd.i32())
	o.Time = bd.u64()

	return o
}

func parseFork(bd *bufDecoder, common *RecordCommon) Record {
	o := &RecordFork{RecordCommon: *common}
	o.Format |= SampleFormatTID | SampleFormatTime

	o.PID, o.PPID = int(bd.i32()), int(bd.i32())
	o.TID, o.PTID = int(bd.i32()), int(bd.i32())
	o.Time = bd.u64()

	return o
}

func (f *File) parseSample(attr *EventAttr, bd *bufDecoder, hdr recordHeader) Record {
	o := &RecordSample{}

	// Get the sample's event attribute ID.
	if f.idOffset == -1 {
		o.ID = 0
	} else if bd.remaining() >= f.idOffset+8 {
		o.ID = attrID(bd.order.Uint64(bd.buf[f.idOffset:]))
	}
	o.EventAttr = f.idToAttr[o.ID]
	if o.EventAttr != nil {
		attr = o.EventAttr
	}

	o.CPUMode = CPUMode(hdr.Misc & recordMiscCPUModeMask)
	o.ExactIP = hdr.Misc&recordMiscExactIP != 0

	t := attr.SampleFormat
	o.Format = t
	bd.u64If(t&SampleFormatIdentifier != 0)
	o.IP = bd.u64If(t&SampleFormatIP != 0)
	o.PID = int(bd.i32If(t&SampleFormatTID != 0))
	o.TID = int(bd.i32If(t&SampleFormatTID != 0))
	o.Time = bd.u64If(t&SampleFormatTime != 0)
	o.Addr = bd.u64If(t&SampleFormatAddr != 0)
	bd.u64If(t&SampleFormatID != 0)
	o.StreamID = bd.u64If(t&SampleFormatStreamID != 0)
	o.CPU = bd.u32If(t&SampleFormatCPU != 0)
	o.Res = bd.u32If(t&SampleFormatCPU != 0)
	o.Period = bd.u64If(t&SampleFormatPeriod != 0)

	if t&SampleFormatCallchain != 0 {
		n := bd.counted(bd.u64(), 8)
		if bd.err == nil {
			o.Callchain = make([]uint64, n)
			bd.u64s(o.Callchain)
		}
	}

	rawSize := bd.u32If(t&SampleFormatRaw != 0)
	bd.skip(int(rawSize))

	if t&SampleFormatBranchStack != 0 {
		n := bd.counted(bd.u64(), 24)
		if bd.err == nil {
			o.BranchStack = make([]BranchRecord, n)
			for i := range o.BranchStack {
				o.BranchStack[i].From = bd.u64()
				o.BranchStack[i].To = bd.u64()
				o.BranchStack[i].Flags = bd.u64()
			}
		}
	}

	return o
}
