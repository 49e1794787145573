// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

import "net/netip"

// RData is the type specific payload of a [Record].
//
// The set of implementations is closed: only the types declared in
// this package implement RData. Use [Opaque] for any other type.
type RData interface {
	rdata()
}

// A is the data of an A record.
type A struct {
	Addr netip.Addr
}

// AAAA is the data of an AAAA record.
type AAAA struct {
	Addr netip.Addr
}

// CNAME is the data of a CNAME record.
type CNAME struct {
	Target string
}

// NS is the data of an NS record.
type NS struct {
	Host string
}

// PTR is the data of a PTR record.
type PTR struct {
	Target string
}

// MX is the data of an MX record.
type MX struct {
	Preference uint16
	Exchange   string
}

// SOA is the data of an SOA record.
type SOA struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// TXT is the data of a TXT record. Each string is at most 255 bytes.
type TXT struct {
	Strings []string
}

// Opaque is the raw data of a record whose type has no dedicated
// representation. It is also used for OPT pseudo-records.
type Opaque struct {
	Data []byte
}

func (A) rdata()      {}
func (AAAA) rdata()   {}
func (CNAME) rdata()  {}
func (NS) rdata()     {}
func (PTR) rdata()    {}
func (MX) rdata()     {}
func (SOA) rdata()    {}
func (TXT) rdata()    {}
func (Opaque) rdata() {}

// rdataType returns the record type matching data, or false for
// [Opaque] and nil, which are acceptable for any type.
func rdataType(data RData) (uint16, bool) {
	switch data.(type) {
	case A:
		return TypeA, true
	case AAAA:
		return TypeAAAA, true
	case CNAME:
		return TypeCNAME, true
	case NS:
		return TypeNS, true
	case PTR:
		return TypePTR, true
	case MX:
		return TypeMX, true
	case SOA:
		return TypeSOA, true
	case TXT:
		return TypeTXT, true
	default:
		return 0, false
	}
}
