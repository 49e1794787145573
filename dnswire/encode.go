// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

import (
	"encoding/binary"
	"math"
)

// maxPointer is the largest offset a compression pointer can express.
const maxPointer = 0x3fff

// Encode serializes a DNS message.
//
// The header counts are taken from the section lengths. Names already
// written in the message are compressed using pointers.
func Encode(p *Packet) ([]byte, error) {
	return AppendEncode(make([]byte, 0, 512), p)
}

// AppendEncode is like [Encode] but appends the message to dst.
func AppendEncode(dst []byte, p *Packet) ([]byte, error) {
	e := &encoder{buf: dst, base: len(dst), names: make(map[string]int)}

	counts := [4]int{len(p.Questions), len(p.Answers), len(p.Authority), len(p.Additional)}
	for _, count := range counts {
		if count > math.MaxUint16 {
			return nil, &EncodeError{Section: "header", Err: ErrTooManyRecords}
		}
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, p.Header.ID)
	e.buf = binary.BigEndian.AppendUint16(e.buf, p.Header.Flags())
	for _, count := range counts {
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(count))
	}

	for _, q := range p.Questions {
		if err := e.name(q.Name); err != nil {
			return nil, &EncodeError{Section: "question", Name: q.Name, Err: err}
		}
		e.buf = binary.BigEndian.AppendUint16(e.buf, q.Type)
		e.buf = binary.BigEndian.AppendUint16(e.buf, q.Class)
	}
	if err := e.records("answer", p.Answers); err != nil {
		return nil, err
	}
	if err := e.records("authority", p.Authority); err != nil {
		return nil, err
	}
	if err := e.records("additional", p.Additional); err != nil {
		return nil, err
	}
	return e.buf, nil
}

type encoder struct {
	buf   []byte
	base  int

	// names maps the wire form of written suffixes to their offset.
	names map[string]int
}

func (e *encoder) records(section string, rrs []Record) error {
	for i := range rrs {
		if err := e.record(&rrs[i]); err != nil {
			return &EncodeError{Section: section, Name: rrs[i].Name, Err: err}
		}
	}
	return nil
}

func (e *encoder) record(rr *Record) error {
	if err := e.name(rr.Name); err != nil {
		return err
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, rr.Type)
	e.buf = binary.BigEndian.AppendUint16(e.buf, rr.Class)
	e.buf = binary.BigEndian.AppendUint32(e.buf, rr.TTL)
	lenOff := len(e.buf)
	e.buf = append(e.buf, 0, 0)
	if err := e.rdata(rr.Type, rr.Data); err != nil {
		return err
	}
	size := len(e.buf) - lenOff - 2
	if size > math.MaxUint16 {
		return ErrRDataTooLong
	}
	binary.BigEndian.PutUint16(e.buf[lenOff:], uint16(size))
	return nil
}

func (e *encoder) rdata(rtype uint16, data RData) error {
	if want, ok := rdataType(data); ok && want != rtype {
		return ErrRDataMismatch
	}
	switch data := data.(type) {
	case nil:
		return nil

	case A:
		if !data.Addr.Is4() {
			return ErrRDataMismatch
		}
		v4 := data.Addr.As4()
		e.buf = append(e.buf, v4[:]...)

	case AAAA:
		if !data.Addr.Is6() {
			return ErrRDataMismatch
		}
		v6 := data.Addr.As16()
		e.buf = append(e.buf, v6[:]...)

	case CNAME:
		return e.name(data.Target)

	case NS:
		return e.name(data.Host)

	case PTR:
		return e.name(data.Target)

	case MX:
		e.buf = binary.BigEndian.AppendUint16(e.buf, data.Preference)
		return e.name(data.Exchange)

	case SOA:
		if err := e.name(data.MName); err != nil {
			return err
		}
		if err := e.name(data.RName); err != nil {
			return err
		}
		for _, v := range [5]uint32{data.Serial, data.Refresh, data.Retry, data.Expire, data.Minimum} {
			e.buf = binary.BigEndian.AppendUint32(e.buf, v)
		}

	case TXT:
		for _, s := range data.Strings {
			if len(s) > math.MaxUint8 {
				return ErrRDataTooLong
			}
			e.buf = append(e.buf, byte(len(s)))
			e.buf = append(e.buf, s...)
		}

	case Opaque:
		e.buf = append(e.buf, data.Data...)
	}
	return nil
}

// name writes name, pointing to earlier occurrences of its suffixes.
// Suffixes are matched case sensitively so that decoding restores the
// exact spelling.
func (e *encoder) name(name string) error {
	labels, err := splitLabels(name)
	if err != nil {
		return err
	}
	size := 1
	for _, label := range labels {
		size += 1 + len(label)
	}
	if size > MaxNameLength {
		return ErrNameTooLong
	}

	wire := make([]byte, 0, size)
	starts := make([]int, 0, len(labels))
	for _, label := range labels {
		if len(label) > MaxLabelLength {
			return ErrLabelTooLong
		}
		starts = append(starts, len(wire))
		wire = append(wire, byte(len(label)))
		wire = append(wire, label...)
	}

	for i, start := range starts {
		suffix := string(wire[start:])
		if ptr, ok := e.names[suffix]; ok {
			e.buf = binary.BigEndian.AppendUint16(e.buf, 0xc000|uint16(ptr))
			return nil
		}
		if off := len(e.buf) - e.base; off <= maxPointer {
			e.names[suffix] = off
		}
		e.buf = append(e.buf, wire[start:start+1+len(labels[i])]...)
	}
	e.buf = append(e.buf, 0)
	return nil
}
