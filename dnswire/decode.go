// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

import (
	"bytes"
	"encoding/binary"
	"net/netip"
)

const (
	// minQuestionSize is a root name followed by type and class.
	minQuestionSize = 1 + 4

	// minRecordSize is a root name followed by the fixed record fields.
	minRecordSize = 1 + 10
)

// PeekID returns the transaction ID of a possibly malformed message.
func PeekID(buf []byte) (uint16, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf), true
}

// Decode parses a DNS message.
//
// The returned [*Packet] does not reference buf.
func Decode(buf []byte) (*Packet, error) {
	d := &decoder{msg: buf, section: "header", minPointer: HeaderSize}
	if len(buf) < HeaderSize {
		return nil, d.fail(len(buf), ErrTruncated)
	}

	pkt := &Packet{}
	pkt.Header.ID = binary.BigEndian.Uint16(buf[0:])
	pkt.Header.SetFlags(binary.BigEndian.Uint16(buf[2:]))
	pkt.Header.QDCount = binary.BigEndian.Uint16(buf[4:])
	pkt.Header.ANCount = binary.BigEndian.Uint16(buf[6:])
	pkt.Header.NSCount = binary.BigEndian.Uint16(buf[8:])
	pkt.Header.ARCount = binary.BigEndian.Uint16(buf[10:])
	d.off = HeaderSize

	// Reject counts that cannot fit before allocating anything.
	h := &pkt.Header
	need := int(h.QDCount)*minQuestionSize +
		(int(h.ANCount)+int(h.NSCount)+int(h.ARCount))*minRecordSize
	if need > len(buf)-HeaderSize {
		return nil, d.fail(HeaderSize, ErrCountMismatch)
	}

	var err error
	if pkt.Questions, err = d.questions(int(h.QDCount)); err != nil {
		return nil, err
	}
	if pkt.Answers, err = d.records("answer", int(h.ANCount)); err != nil {
		return nil, err
	}
	if pkt.Authority, err = d.records("authority", int(h.NSCount)); err != nil {
		return nil, err
	}
	if pkt.Additional, err = d.records("additional", int(h.ARCount)); err != nil {
		return nil, err
	}
	if d.off != len(buf) {
		return nil, d.fail(d.off, ErrCountMismatch)
	}
	return pkt, nil
}

// DecodeRecord parses a single uncompressed resource record that
// must span the whole buffer.
func DecodeRecord(buf []byte) (Record, error) {
	d := &decoder{msg: buf, section: "record"}
	rr, err := d.record()
	if err != nil {
		return Record{}, err
	}
	if d.off != len(buf) {
		return Record{}, d.fail(d.off, ErrCountMismatch)
	}
	return rr, nil
}

type decoder struct {
	msg        []byte
	off        int
	section    string
	minPointer int
}

func (d *decoder) fail(off int, err error) error {
	return &DecodeError{Section: d.section, Offset: off, Err: err}
}

func (d *decoder) questions(count int) ([]Question, error) {
	if count == 0 {
		return nil, nil
	}
	d.section = "question"
	out := make([]Question, 0, count)
	for range count {
		if d.off >= len(d.msg) {
			return nil, d.fail(d.off, ErrCountMismatch)
		}
		name, off, err := d.name(d.off)
		if err != nil {
			return nil, err
		}
		if off+4 > len(d.msg) {
			return nil, d.fail(off, ErrTruncated)
		}
		out = append(out, Question{
			Name:  name,
			Type:  binary.BigEndian.Uint16(d.msg[off:]),
			Class: binary.BigEndian.Uint16(d.msg[off+2:]),
		})
		d.off = off + 4
	}
	return out, nil
}

func (d *decoder) records(section string, count int) ([]Record, error) {
	if count == 0 {
		return nil, nil
	}
	d.section = section
	out := make([]Record, 0, count)
	for range count {
		rr, err := d.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

func (d *decoder) record() (Record, error) {
	if d.off >= len(d.msg) {
		return Record{}, d.fail(d.off, ErrCountMismatch)
	}
	name, off, err := d.name(d.off)
	if err != nil {
		return Record{}, err
	}
	if off+10 > len(d.msg) {
		return Record{}, d.fail(off, ErrTruncated)
	}
	rr := Record{
		Name:  name,
		Type:  binary.BigEndian.Uint16(d.msg[off:]),
		Class: binary.BigEndian.Uint16(d.msg[off+2:]),
		TTL:   binary.BigEndian.Uint32(d.msg[off+4:]),
	}
	rdlen := int(binary.BigEndian.Uint16(d.msg[off+8:]))
	off += 10
	end := off + rdlen
	if end > len(d.msg) {
		return Record{}, d.fail(off, ErrTruncated)
	}
	if rr.Data, err = d.rdata(rr.Type, off, end); err != nil {
		return Record{}, err
	}
	d.off = end
	return rr, nil
}

func (d *decoder) rdata(rtype uint16, off, end int) (RData, error) {
	switch rtype {
	case TypeA:
		if end-off != 4 {
			return nil, d.fail(off, ErrBadRData)
		}
		return A{Addr: netip.AddrFrom4([4]byte(d.msg[off:end]))}, nil

	case TypeAAAA:
		if end-off != 16 {
			return nil, d.fail(off, ErrBadRData)
		}
		return AAAA{Addr: netip.AddrFrom16([16]byte(d.msg[off:end]))}, nil

	case TypeCNAME, TypeNS, TypePTR:
		name, err := d.nameWithin(off, end)
		if err != nil {
			return nil, err
		}
		switch rtype {
		case TypeCNAME:
			return CNAME{Target: name}, nil
		case TypeNS:
			return NS{Host: name}, nil
		default:
			return PTR{Target: name}, nil
		}

	case TypeMX:
		if end-off < 3 {
			return nil, d.fail(off, ErrBadRData)
		}
		exchange, err := d.nameWithin(off+2, end)
		if err != nil {
			return nil, err
		}
		return MX{Preference: binary.BigEndian.Uint16(d.msg[off:]), Exchange: exchange}, nil

	case TypeSOA:
		mname, next, err := d.name(off)
		if err != nil {
			return nil, err
		}
		rname, next, err := d.name(next)
		if err != nil {
			return nil, err
		}
		if next+20 != end {
			return nil, d.fail(next, ErrBadRData)
		}
		return SOA{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(d.msg[next:]),
			Refresh: binary.BigEndian.Uint32(d.msg[next+4:]),
			Retry:   binary.BigEndian.Uint32(d.msg[next+8:]),
			Expire:  binary.BigEndian.Uint32(d.msg[next+12:]),
			Minimum: binary.BigEndian.Uint32(d.msg[next+16:]),
		}, nil

	case TypeTXT:
		var txt TXT
		for pos := off; pos < end; {
			size := int(d.msg[pos])
			if pos+1+size > end {
				return nil, d.fail(pos, ErrBadRData)
			}
			txt.Strings = append(txt.Strings, string(d.msg[pos+1:pos+1+size]))
			pos += 1 + size
		}
		return txt, nil

	default:
		var data []byte
		if end > off {
			data = bytes.Clone(d.msg[off:end])
		}
		return Opaque{Data: data}, nil
	}
}

// nameWithin decodes a name that must end exactly at end.
func (d *decoder) nameWithin(off, end int) (string, error) {
	name, next, err := d.name(off)
	if err != nil {
		return "", err
	}
	if next != end {
		return "", d.fail(off, ErrBadRData)
	}
	return name, nil
}

// name decodes the name at off and returns it along with the offset
// following it in the original (non-pointer) position.
func (d *decoder) name(off int) (string, int, error) {
	var (
		out    = make([]byte, 0, 32)
		pos    = off
		next   = -1
		hops   = 0
		length = 0
	)
	for {
		if pos >= len(d.msg) {
			return "", 0, d.fail(pos, ErrTruncated)
		}
		c := int(d.msg[pos])
		switch c & 0xc0 {
		case 0x00:
			length += 1 + c
			if length > MaxNameLength {
				return "", 0, d.fail(pos, ErrNameTooLong)
			}
			if c == 0 {
				if next < 0 {
					next = pos + 1
				}
				if len(out) == 0 {
					return ".", next, nil
				}
				return string(out), next, nil
			}
			if pos+1+c > len(d.msg) {
				return "", 0, d.fail(pos, ErrTruncated)
			}
			if len(out) > 0 {
				out = append(out, '.')
			}
			out = appendLabel(out, d.msg[pos+1:pos+1+c])
			pos += 1 + c

		case 0xc0:
			if pos+1 >= len(d.msg) {
				return "", 0, d.fail(pos, ErrTruncated)
			}
			ptr := int(binary.BigEndian.Uint16(d.msg[pos:]) & 0x3fff)
			if ptr >= pos || ptr < d.minPointer {
				return "", 0, d.fail(pos, ErrBadPointer)
			}
			if hops++; hops > MaxPointerHops {
				return "", 0, d.fail(pos, ErrBadPointer)
			}
			if next < 0 {
				next = pos + 2
			}
			pos = ptr

		default:
			return "", 0, d.fail(pos, ErrInvalidLabel)
		}
	}
}
