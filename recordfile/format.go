// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import "fmt"

// On-disk layout of a simpleperf record file:
//
//	fileHeader
//	attr section: fileHeader.Attrs.Size/fileHeader.AttrSize entries
//	ID lists, one per attr, referenced by each entry's IDs section
//	data section: alternating recordHeader and payload
//	feature section table: one FileSection per set feature bit
//	feature section payloads

const fileMagic = "SIMPLEPERF"

const (
	fileHeaderSize  = 80
	numFeatureBytes = 32
	numFeatureBits  = numFeatureBytes * 8

	// Size of the v0 attr layout plus the trailing IDs section.
	minAttrSize = attrV0Size + 16
	attrV0Size  = 64

	recordHeaderSize = 8
)

// fileHeader is the fixed-size header at offset 0.
type fileHeader struct {
	Magic      [10]byte
	HeaderSize uint16
	AttrSize   uint16
	Attrs      FileSection // array of attr entries
	Data       FileSection // alternating recordHeader and payload
	Features   [numFeatureBytes]byte
}

// hasFeature reports whether feature bit f is set. The bitmap is
// little-endian within each byte, ascending byte index.
func (h *fileHeader) hasFeature(f Feature) bool {
	if f < 0 || f >= numFeatureBits {
		return false
	}
	return h.Features[f/8]&(1<<(uint(f)%8)) != 0
}

// FileSection is a {offset, size} reference to a byte range of the
// file.
type FileSection struct {
	Offset, Size uint64
}

// A Feature identifies an optional feature section.
type Feature int

const (
	featureReserved Feature = iota // always cleared
	FeatureTracingData
	FeatureBuildID

	FeatureHostname
	FeatureOSRelease
	FeatureVersion
	FeatureArch
	FeatureNrCpus
	FeatureCPUDesc
	FeatureCPUID
	FeatureTotalMem
	FeatureCmdline
	FeatureEventDesc
	FeatureCPUTopology
	FeatureNUMATopology
	FeatureBranchStack
	FeaturePMUMappings
	FeatureGroupDesc
)

// FileAttr is one entry of the attribute table: an event attribute
// plus the file section holding the IDs of samples recorded for it.
type FileAttr struct {
	Attr EventAttr
	IDs  FileSection // array of attrID, one per core/thread
}

type attrID uint64

// EventAttr describes an event and how that event was recorded.
//
// This is the v0 perf_event_attr layout. Files written with newer,
// larger attr layouts are accepted; the extra bytes are skipped.
type EventAttr struct {
	// Type and Config select the event that was counted or
	// sampled.
	Type   EventType
	Config uint64

	// SamplePeriodOrFreq is the sampling period, or the target
	// sample frequency if Flags&EventFlagFreq is set.
	SamplePeriodOrFreq uint64

	// SampleFormat lists the fields present in each sample record,
	// and in the trailer of non-sample records if
	// Flags&EventFlagSampleIDAll is set.
	SampleFormat SampleFormat

	ReadFormat ReadFormat

	Flags EventFlags

	// WakeupEventsOrWatermark is the wakeup granularity in events,
	// or in bytes if Flags&EventFlagWakeupWatermark is set.
	WakeupEventsOrWatermark uint32

	BPType  uint32
	Config1 uint64
}

// An EventType is a general class of performance event.
type EventType uint32

const (
	EventTypeHardware EventType = iota
	EventTypeSoftware
	EventTypeTracepoint
	EventTypeHWCache
	EventTypeRaw
	EventTypeBreakpoint
)

// A SampleFormat is a bitmask of the fields recorded by a sample.
type SampleFormat uint64

const (
	SampleFormatIP SampleFormat = 1 << iota
	SampleFormatTID
	SampleFormatTime
	SampleFormatAddr
	SampleFormatRead
	SampleFormatCallchain
	SampleFormatID
	SampleFormatCPU
	SampleFormatPeriod
	SampleFormatStreamID
	SampleFormatRaw
	SampleFormatBranchStack
	SampleFormatIdentifier SampleFormat = 1 << 16
)

// sampleIDOffset returns the byte offset of the ID field of an
// on-disk sample record with this sample format. If there is no ID
// field, it returns -1.
func (s SampleFormat) sampleIDOffset() int {
	if s&SampleFormatIdentifier != 0 {
		return 0
	}
	if s&SampleFormatID == 0 {
		return -1
	}

	off := 0
	if s&SampleFormatIP != 0 {
		off += 8
	}
	if s&SampleFormatTID != 0 {
		off += 8
	}
	if s&SampleFormatTime != 0 {
		off += 8
	}
	if s&SampleFormatAddr != 0 {
		off += 8
	}
	return off
}

// recordIDOffset returns the byte offset of the ID field of
// non-sample records relative to the end of the on-disk record. If
// there is no ID field, it returns -1.
func (s SampleFormat) recordIDOffset() int {
	if s&SampleFormatIdentifier != 0 {
		return -8
	}
	if s&SampleFormatID == 0 {
		return -1
	}

	off := 0
	if s&SampleFormatCPU != 0 {
		off -= 8
	}
	if s&SampleFormatStreamID != 0 {
		off -= 8
	}
	return off - 8
}

// trailerBytes returns the length of the sample_id trailer of
// non-sample records.
func (s SampleFormat) trailerBytes() int {
	s &= SampleFormatTID | SampleFormatTime | SampleFormatID | SampleFormatStreamID | SampleFormatCPU | SampleFormatIdentifier
	return 8 * weight(uint64(s))
}

// ReadFormat is a bitmask of the fields recorded in the read counter
// field of a sample.
type ReadFormat uint64

const (
	ReadFormatTotalTimeEnabled ReadFormat = 1 << iota
	ReadFormatTotalTimeRunning
	ReadFormatID
	ReadFormatGroup
)

// EventFlags is a bitmask of boolean properties of an event.
type EventFlags uint64

const (
	// Event is disabled by default
	EventFlagDisabled EventFlags = 1 << iota
	// Children inherit this event
	EventFlagInherit
	// Event must always be on the PMU
	EventFlagPinned
	// Event is only group on PMU
	EventFlagExclusive
	// Don't count events in user/kernel/hypervisor/when idle
	EventFlagExcludeUser
	EventFlagExcludeKernel
	EventFlagExcludeHypervisor
	EventFlagExcludeIdle
	// Include mmap data
	EventFlagMmap
	// Include comm data
	EventFlagComm
	// Use frequency, not period
	EventFlagFreq
	// Per task counts
	EventFlagInheritStat
	// Next exec enables this event
	EventFlagEnableOnExec
	// Trace fork/exit
	EventFlagTask
	// WakeupEventsOrWatermark is a byte watermark
	EventFlagWakeupWatermark

	// Skip two bits here for the precise_ip field

	// Non-exec mmap data
	EventFlagMmapData EventFlags = 1 << (2 + iota)
	// All record types carry the sample_id trailer
	EventFlagSampleIDAll
)

// recordHeader is the fixed-size prefix of every record in the data
// section. Size includes the prefix itself.
type recordHeader struct {
	Type RecordType
	Misc recordMisc
	Size uint16
}

// A RecordType indicates the type of a record in a profile. A record
// is either a profiling sample or describes a change to system state,
// such as a process calling mmap.
type RecordType uint32

const (
	RecordTypeMmap RecordType = 1 + iota
	RecordTypeLost
	RecordTypeComm
	RecordTypeExit
	RecordTypeThrottle
	RecordTypeUnthrottle
	RecordTypeFork
	RecordTypeRead
	RecordTypeSample
)

var recordTypeNames = map[RecordType]string{
	RecordTypeMmap:       "Mmap",
	RecordTypeLost:       "Lost",
	RecordTypeComm:       "Comm",
	RecordTypeExit:       "Exit",
	RecordTypeThrottle:   "Throttle",
	RecordTypeUnthrottle: "Unthrottle",
	RecordTypeFork:       "Fork",
	RecordTypeRead:       "Read",
	RecordTypeSample:     "Sample",
}

func (t RecordType) String() string {
	if s, ok := recordTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RecordType(%d)", uint32(t))
}

type recordMisc uint16

const (
	recordMiscCPUModeMask recordMisc = 7
	recordMiscMmapData               = 1 << 13 // RecordTypeMmap records
	recordMiscCommExec               = 1 << 13 // RecordTypeComm records
	recordMiscExactIP                = 1 << 14 // RecordTypeSample records
)

// A CPUMode indicates the privilege level a record applies to.
type CPUMode uint16

const (
	CPUModeUnknown CPUMode = iota
	CPUModeKernel
	CPUModeUser
	CPUModeHypervisor
	CPUModeGuestKernel
	CPUModeGuestUser
)

// Record is the common interface implemented by all profile record
// types.
type Record interface {
	Type() RecordType
	Common() *RecordCommon
}

// RecordCommon stores fields common to all record types. It is not
// itself a Record.
//
// Most fields are optional; Format indicates which of them the file
// actually recorded. For non-sample records they come from the
// sample_id trailer and are only present when the event attribute has
// EventFlagSampleIDAll.
type RecordCommon struct {
	// Offset is the byte offset of this record in the file.
	Offset int64

	// Format is a bit mask of SampleFormat* values that indicate
	// which optional fields of this record are valid.
	Format SampleFormat

	// EventAttr is the event associated with this record, or nil
	// if the record could not be routed to one.
	EventAttr *EventAttr

	PID, TID int    // if SampleFormatTID
	Time     uint64 // if SampleFormatTime
	ID       attrID // if SampleFormatID or SampleFormatIdentifier
	StreamID uint64 // if SampleFormatStreamID
	CPU, Res uint32 // if SampleFormatCPU
}

func (r *RecordCommon) Common() *RecordCommon {
	return r
}

// A RecordUnknown is a Record of unknown or unimplemented type. Data
// is a copy of the raw payload after the record header.
type RecordUnknown struct {
	recordHeader

	RecordCommon

	Data []byte
}

func (r *RecordUnknown) Type() RecordType {
	return r.recordHeader.Type
}

// A RecordMmap records that a profiled process mapped a file.
// RecordMmaps also occur at the beginning of a profile to describe
// the existing memory layout.
type RecordMmap struct {
	// RecordCommon.PID and .TID will always be filled
	RecordCommon

	Data bool // from header.misc

	// Addr and Len are the virtual address of the start of this
	// mapping and its length in bytes.
	Addr, Len uint64
	// FileOffset is the byte offset in the mapped file of the
	// beginning of this mapping.
	FileOffset uint64

	Filename string
}

func (r *RecordMmap) Type() RecordType {
	return RecordTypeMmap
}

// A RecordLost records that profiling events were lost because of a
// buffer overflow.
type RecordLost struct {
	// RecordCommon.ID and .EventAttr will always be filled
	RecordCommon

	NumLost uint64
}

func (r *RecordLost) Type() RecordType {
	return RecordTypeLost
}

// A RecordComm records that a profiled process set its command name.
// RecordComms also occur at the beginning of a profile to describe
// the existing set of processes.
type RecordComm struct {
	// RecordCommon.PID and .TID will always be filled
	RecordCommon

	Exec bool // from header.misc

	Comm string
}

func (r *RecordComm) Type() RecordType {
	return RecordTypeComm
}

// A RecordExit records that a profiled thread exited.
type RecordExit struct {
	// RecordCommon.PID, .TID, and .Time will always be filled
	RecordCommon

	PPID, PTID int
}

func (r *RecordExit) Type() RecordType {
	return RecordTypeExit
}

// A RecordFork records that a profiled process forked or spawned a
// thread.
type RecordFork struct {
	// RecordCommon.PID, .TID, and .Time will always be filled
	RecordCommon

	PPID, PTID int
}

func (r *RecordFork) Type() RecordType {
	return RecordTypeFork
}

// A RecordSample is a profiling sample. The fields present depend on
// the sample format of the event attribute that produced it.
type RecordSample struct {
	RecordCommon

	CPUMode CPUMode // from header.misc

	// ExactIP indicates that IP points to the actual instruction
	// that triggered the event.
	ExactIP bool // from header.misc

	IP     uint64 // if SampleFormatIP
	Addr   uint64 // if SampleFormatAddr
	Period uint64 // if SampleFormatPeriod

	// Callchain gives the call stack of the sampled instruction,
	// innermost frame first, with kernel/user boundary markers
	// interleaved. Filled if SampleFormatCallchain.
	Callchain []uint64

	// BranchStack gives the last branches taken before the
	// sample. Filled if SampleFormatBranchStack.
	BranchStack []BranchRecord
}

func (r *RecordSample) Type() RecordType {
	return RecordTypeSample
}

// A BranchRecord is one entry of a sample's branch stack.
type BranchRecord struct {
	From, To uint64
	Flags    uint64
}

func weight(x uint64) int {
	x -= (x >> 1) & 0x5555555555555555
	x = (x & 0x3333333333333333) + ((x >> 2) & 0x3333333333333333)
	x = (x + (x >> 4)) & 0x0f0f0f0f0f0f0f0f
	return int((x * 0x0101010101010101) >> 56)
}
