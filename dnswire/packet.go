// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

import "math"

// Record types with a dedicated [RData] representation.
const (
	TypeA     uint16 = 1
	TypeNS    uint16 = 2
	TypeCNAME uint16 = 5
	TypeSOA   uint16 = 6
	TypePTR   uint16 = 12
	TypeMX    uint16 = 15
	TypeTXT   uint16 = 16
	TypeAAAA  uint16 = 28
	TypeOPT   uint16 = 41
)

// ClassINET is the Internet class.
const ClassINET uint16 = 1

// Response codes.
const (
	RcodeSuccess        uint8 = 0
	RcodeFormatError    uint8 = 1
	RcodeServerFailure  uint8 = 2
	RcodeNameError      uint8 = 3
	RcodeNotImplemented uint8 = 4
	RcodeRefused        uint8 = 5
)

// OpcodeQuery is the standard query opcode.
const OpcodeQuery uint8 = 0

const (
	// HeaderSize is the size of the fixed DNS header.
	HeaderSize = 12

	// MaxLabelLength is the maximum length of a single label.
	MaxLabelLength = 63

	// MaxNameLength is the maximum length of an encoded name.
	MaxNameLength = 255

	// MaxPointerHops is the maximum number of compression pointers
	// followed while decoding a single name.
	MaxPointerHops = 10
)

const (
	flagQR = 1 << 15
	flagAA = 1 << 10
	flagTC = 1 << 9
	flagRD = 1 << 8
	flagRA = 1 << 7
)

// Header is the fixed 12-byte DNS header.
//
// The count fields reflect what was declared on the wire after [Decode]
// and what [*Packet.SyncCounts] stored. [Encode] ignores them and always
// writes the actual section lengths.
type Header struct {
	ID                 uint16
	Response           bool
	Opcode             uint8
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	Z                  uint8
	Rcode              uint8
	QDCount            uint16
	ANCount            uint16
	NSCount            uint16
	ARCount            uint16
}

// Flags returns the second 16-bit word of the header.
func (h Header) Flags() uint16 {
	var flags uint16
	if h.Response {
		flags |= flagQR
	}
	flags |= uint16(h.Opcode&0x0f) << 11
	if h.Authoritative {
		flags |= flagAA
	}
	if h.Truncated {
		flags |= flagTC
	}
	if h.RecursionDesired {
		flags |= flagRD
	}
	if h.RecursionAvailable {
		flags |= flagRA
	}
	flags |= uint16(h.Z&0x07) << 4
	flags |= uint16(h.Rcode & 0x0f)
	return flags
}

// SetFlags sets the flag fields from the second 16-bit word of the header.
func (h *Header) SetFlags(flags uint16) {
	h.Response = flags&flagQR != 0
	h.Opcode = uint8(flags>>11) & 0x0f
	h.Authoritative = flags&flagAA != 0
	h.Truncated = flags&flagTC != 0
	h.RecursionDesired = flags&flagRD != 0
	h.RecursionAvailable = flags&flagRA != 0
	h.Z = uint8(flags>>4) & 0x07
	h.Rcode = uint8(flags) & 0x0f
}

// Question is an entry of the question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Record is a resource record.
type Record struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  RData
}

// Packet is a DNS message.
type Packet struct {
	Header     Header
	Questions  []Question
	Answers    []Record
	Authority  []Record
	Additional []Record
}

// SyncCounts stores the section lengths into the header counts.
//
// Counts saturate at 65535. A section longer than that cannot be
// represented: [*Packet.CountsInSync] reports false and [Encode] fails with
// [ErrTooManyRecords].
func (p *Packet) SyncCounts() {
	p.Header.QDCount = sectionCount(len(p.Questions))
	p.Header.ANCount = sectionCount(len(p.Answers))
	p.Header.NSCount = sectionCount(len(p.Authority))
	p.Header.ARCount = sectionCount(len(p.Additional))
}

func sectionCount(n int) uint16 {
	return uint16(min(n, math.MaxUint16))
}

// CountsInSync returns whether the header counts match the section lengths.
func (p *Packet) CountsInSync() bool {
	return int(p.Header.QDCount) == len(p.Questions) &&
		int(p.Header.ANCount) == len(p.Answers) &&
		int(p.Header.NSCount) == len(p.Authority) &&
		int(p.Header.ARCount) == len(p.Additional)
}
