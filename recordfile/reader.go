// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrClosed is returned by operations on a File after Close.
	ErrClosed = errors.New("record file is closed")

	// ErrNoAttrs is returned by Records when the attribute table
	// is empty. A file with a data section but no attributes is
	// malformed.
	ErrNoAttrs = errors.New("record file has no event attributes")

	// ErrTruncated indicates that a declared section or field
	// extends past the end of the file or of its enclosing
	// section.
	ErrTruncated = errors.New("truncated data")
)

// File is an open record file.
//
// A File and everything decoded from it are safe for concurrent
// readers as long as no goroutine calls Close concurrently.
type File struct {
	m   *fileMap
	hdr fileHeader

	attrs    []FileAttr
	idToAttr map[attrID]*EventAttr

	// idOffset is the byte offset of the attr ID in samples, or -1
	// if samples carry no ID.
	idOffset int

	// featureSections is built lazily by FeatureSections.
	featureSections map[Feature]FileSection
}

// Open opens the named record file and maps its contents. The caller
// must call Close on the returned File when it is done.
func Open(name string) (*File, error) {
	m, err := openFileMap(name)
	if err != nil {
		return nil, err
	}
	f, err := newFile(m)
	if err != nil {
		m.close()
		return nil, err
	}
	return f, nil
}

func newFile(m *fileMap) (*File, error) {
	f := &File{m: m}

	// Read header. See record_file_format in the simpleperf docs.
	bd := &bufDecoder{m.bytes(), binary.LittleEndian, nil}
	if bd.remaining() < fileHeaderSize {
		return nil, fmt.Errorf("%w: file header", ErrTruncated)
	}
	bd.bytes(f.hdr.Magic[:])
	f.hdr.HeaderSize = bd.u16()
	f.hdr.AttrSize = bd.u16()
	bd.skip(2)
	f.hdr.Attrs = FileSection{bd.u64(), bd.u64()}
	f.hdr.Data = FileSection{bd.u64(), bd.u64()}
	bd.bytes(f.hdr.Features[:])
	if err := bd.err; err != nil {
		return nil, err
	}
	if string(f.hdr.Magic[:]) != fileMagic {
		return nil, fmt.Errorf("bad or unsupported file magic %q", f.hdr.Magic[:])
	}
	if int(f.hdr.HeaderSize) < fileHeaderSize {
		return nil, fmt.Errorf("bad header size %d", f.hdr.HeaderSize)
	}
	// Newer files may use larger attr layouts; anything smaller
	// than the v0 layout plus the IDs section cannot be decoded.
	if f.hdr.AttrSize < minAttrSize {
		return nil, fmt.Errorf("bad attr size %d", f.hdr.AttrSize)
	}

	if err := f.readAttrs(); err != nil {
		return nil, err
	}

	// Build the ID -> EventAttr map for routing records back to
	// the attribute that produced them.
	f.idToAttr = make(map[attrID]*EventAttr)
	for i := range f.attrs {
		attr := &f.attrs[i]
		ids, err := f.IDs(attr)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			f.idToAttr[attrID(id)] = &attr.Attr
		}
	}

	// If there's just one event, samples may implicitly refer to
	// that event, in which case there may be no IDs. Create a
	// synthetic ID of 0.
	f.idOffset = -1
	if len(f.idToAttr) == 0 {
		if len(f.attrs) > 1 {
			return nil, fmt.Errorf("file has multiple event attributes, but no IDs")
		}
		if len(f.attrs) == 1 {
			if f.attrs[0].Attr.SampleFormat&(SampleFormatID|SampleFormatIdentifier) != 0 {
				return nil, fmt.Errorf("sample format has IDs, but events don't have IDs")
			}
			f.idToAttr[0] = &f.attrs[0].Attr
		}
	} else {
		for _, attr := range f.attrs {
			x := attr.Attr.SampleFormat.sampleIDOffset()
			if x == -1 {
				return nil, fmt.Errorf("events have no ID field")
			} else if f.idOffset == -1 {
				f.idOffset = x
			} else if f.idOffset != x {
				return nil, fmt.Errorf("events have incompatible ID offsets %d and %d", f.idOffset, x)
			}
		}
	}

	return f, nil
}

// Close releases the file mapping and the underlying descriptor.
// Calling Close more than once is safe; calls after the first return
// nil. Any Record decoded before Close remains valid, but all other
// methods of the File fail with ErrClosed.
func (f *File) Close() error {
	return f.m.close()
}

// A Header summarizes a file's fixed header: the on-disk structure
// sizes and the section table.
type Header struct {
	HeaderSize int
	AttrSize   int
	Attrs      FileSection
	Data       FileSection
}

// Header returns the file's fixed header as decoded at Open.
func (f *File) Header() Header {
	return Header{
		HeaderSize: int(f.hdr.HeaderSize),
		AttrSize:   int(f.hdr.AttrSize),
		Attrs:      f.hdr.Attrs,
		Data:       f.hdr.Data,
	}
}

func (f *File) readAttrs() error {
	sec, err := f.m.section(f.hdr.Attrs)
	if err != nil {
		return fmt.Errorf("attr section: %w", err)
	}
	stride := int(f.hdr.AttrSize)
	n := len(sec) / stride
	f.attrs = make([]FileAttr, n)
	for i := 0; i < n; i++ {
		bd := &bufDecoder{sec[i*stride : (i+1)*stride], binary.LittleEndian, nil}
		a := &f.attrs[i]
		a.Attr.Type = EventType(bd.u32())
		sz := bd.u32()
		a.Attr.Config = bd.u64()
		a.Attr.SamplePeriodOrFreq = bd.u64()
		a.Attr.SampleFormat = SampleFormat(bd.u64())
		a.Attr.ReadFormat = ReadFormat(bd.u64())
		a.Attr.Flags = EventFlags(bd.u64())
		a.Attr.WakeupEventsOrWatermark = bd.u32()
		a.Attr.BPType = bd.u32()
		a.Attr.Config1 = bd.u64()
		if sz != 0 && int(sz) > stride-16 {
			return fmt.Errorf("attr %d declares size %d beyond its %d-byte entry", i, sz, stride)
		}
		// The IDs section sits at the end of the entry,
		// whatever attr version padded the middle.
		bd = &bufDecoder{sec[(i+1)*stride-16 : (i+1)*stride], binary.LittleEndian, nil}
		a.IDs = FileSection{bd.u64(), bd.u64()}
	}
	return nil
}

// Attrs returns the file's event attribute table. The returned slice
// is shared; callers must not modify it.
func (f *File) Attrs() ([]FileAttr, error) {
	if f.m.bytes() == nil {
		return nil, ErrClosed
	}
	return f.attrs, nil
}

// IDs returns the sample IDs belonging to attr. Records whose ID
// field holds one of these values were produced by attr.
func (f *File) IDs(attr *FileAttr) ([]uint64, error) {
	sec, err := f.m.section(attr.IDs)
	if err != nil {
		return nil, fmt.Errorf("attr ID section: %w", err)
	}
	ids := make([]uint64, len(sec)/8)
	bd := &bufDecoder{sec, binary.LittleEndian, nil}
	bd.u64s(ids)
	return ids, bd.err
}

// Records decodes the data section and returns the records in
// temporal order.
//
// If the file's event attribute requests a timestamp on every record
// (SampleFormatTime together with EventFlagSampleIDAll), the records
// are reordered by time; at equal times non-sample records come
// before samples, since non-sample records may carry context needed
// to interpret the samples, and records at equal time and class keep
// their on-disk order. Otherwise the on-disk order is returned
// unmodified.
//
// A trailing record whose declared length extends past the data
// section is dropped without error; files still being written are
// expected to end this way. A record whose payload fails to decode is
// skipped by its declared length and the walk continues; only a
// length field too small to be trusted halts the walk, returning the
// records decoded so far.
func (f *File) Records() ([]Record, error) {
	sec, err := f.m.section(f.hdr.Data)
	if err != nil {
		return nil, fmt.Errorf("data section: %w", err)
	}
	if len(f.attrs) == 0 {
		return nil, ErrNoAttrs
	}
	attr := &f.attrs[0].Attr

	var out []Record
	pos := 0
	for pos+recordHeaderSize <= len(sec) {
		bd := &bufDecoder{sec[pos:], binary.LittleEndian, nil}
		hdr := recordHeader{
			Type: RecordType(bd.u32()),
			Misc: recordMisc(bd.u16()),
			Size: bd.u16(),
		}
		if int(hdr.Size) < recordHeaderSize {
			// Cannot trust the length field; keep what was
			// decoded so far.
			break
		}
		if pos+int(hdr.Size) > len(sec) {
			// Truncated trailing record.
			break
		}
		payload := sec[pos+recordHeaderSize : pos+int(hdr.Size)]
		r, err := f.decodeRecord(attr, hdr, payload)
		if err != nil {
			// Corrupt payload. The declared length fit the
			// section, so only this record is lost; skip it
			// and keep walking.
			pos += int(hdr.Size)
			continue
		}
		r.Common().Offset = int64(f.hdr.Data.Offset) + int64(pos)
		out = append(out, r)
		pos += int(hdr.Size)
	}

	if attr.SampleFormat&SampleFormatTime != 0 && attr.Flags&EventFlagSampleIDAll != 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return recordHappensBefore(out[i], out[j])
		})
	}
	return out, nil
}

// recordHappensBefore is the total order used to repair write-time
// record order: time ascending, and at equal times non-sample records
// before samples.
func recordHappensBefore(r1, r2 Record) bool {
	t1, t2 := r1.Common().Time, r2.Common().Time
	if t1 != t2 {
		return t1 < t2
	}
	sample1 := r1.Type() == RecordTypeSample
	sample2 := r2.Type() == RecordTypeSample
	if sample1 != sample2 {
		return !sample1
	}
	return false
}

// FeatureSections returns the table mapping each feature present in
// the file to its section descriptor. The table is built on first
// call and cached for the life of the File; callers must not modify
// it.
func (f *File) FeatureSections() (map[Feature]FileSection, error) {
	if f.featureSections != nil {
		return f.featureSections, nil
	}
	if f.m.bytes() == nil {
		return nil, ErrClosed
	}

	// One section descriptor per set bit, in ascending bit order,
	// immediately after the data section.
	var features []Feature
	for bit := Feature(0); bit < numFeatureBits; bit++ {
		if f.hdr.hasFeature(bit) {
			features = append(features, bit)
		}
	}
	sec, err := f.m.section(FileSection{
		Offset: f.hdr.Data.Offset + f.hdr.Data.Size,
		Size:   uint64(16 * len(features)),
	})
	if err != nil {
		return nil, fmt.Errorf("feature section table: %w", err)
	}
	bd := &bufDecoder{sec, binary.LittleEndian, nil}
	table := make(map[Feature]FileSection)
	for _, feature := range features {
		table[feature] = FileSection{bd.u64(), bd.u64()}
	}
	if bd.err != nil {
		return nil, bd.err
	}
	f.featureSections = table
	return table, nil
}

// FeatureData returns the raw contents of a feature section, or nil
// if the file does not carry that feature.
func (f *File) FeatureData(feature Feature) ([]byte, error) {
	sections, err := f.FeatureSections()
	if err != nil {
		return nil, err
	}
	sec, ok := sections[feature]
	if !ok {
		return nil, nil
	}
	data, err := f.m.section(sec)
	if err != nil {
		return nil, fmt.Errorf("feature %d: %w", feature, err)
	}
	return data, nil
}

// CmdLine returns the command line the profiler was invoked with, or
// nil, nil if the file does not record it.
func (f *File) CmdLine() ([]string, error) {
	data, err := f.FeatureData(FeatureCmdline)
	if err != nil || data == nil {
		return nil, err
	}
	bd := &bufDecoder{data, binary.LittleEndian, nil}
	out := bd.stringList()
	if bd.err != nil {
		return nil, fmt.Errorf("cmdline feature: %w", bd.err)
	}
	return out, nil
}

func (f *File) stringFeature(feature Feature) (string, error) {
	data, err := f.FeatureData(feature)
	if err != nil || data == nil {
		return "", err
	}
	bd := &bufDecoder{data, binary.LittleEndian, nil}
	bd.u32() // Ignore length; string is \0-terminated
	s := bd.cstring()
	if bd.err != nil {
		return "", fmt.Errorf("feature %d: %w", feature, bd.err)
	}
	return s, nil
}

// Hostname returns the hostname of the machine that recorded this
// profile, or "" if unknown.
func (f *File) Hostname() (string, error) {
	return f.stringFeature(FeatureHostname)
}

// OSRelease returns the OS release of the machine that recorded this
// profile, or "" if unknown.
func (f *File) OSRelease() (string, error) {
	return f.stringFeature(FeatureOSRelease)
}

// Version returns the profiler version that recorded this profile, or
// "" if unknown.
func (f *File) Version() (string, error) {
	return f.stringFeature(FeatureVersion)
}

// Arch returns the host architecture of the machine that recorded
// this profile, or "" if unknown.
func (f *File) Arch() (string, error) {
	return f.stringFeature(FeatureArch)
}

// CPUDesc returns a string describing the CPU of the machine that
// recorded this profile, or "" if unknown.
func (f *File) CPUDesc() (string, error) {
	return f.stringFeature(FeatureCPUDesc)
}

// CPUID returns the CPUID string of the machine that recorded this
// profile, or "" if unknown.
func (f *File) CPUID() (string, error) {
	return f.stringFeature(FeatureCPUID)
}
