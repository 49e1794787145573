//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/bassosimone/dnscodec/blob/main/query.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/query.go
//

package upstream

import (
	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

const (
	// QueryFlagBlockLengthPadding enables RFC8467 block length padding.
	QueryFlagBlockLengthPadding = 1 << iota

	// QueryFlagDNSSec sets the DO bit in the OPT record.
	QueryFlagDNSSec
)

// QueryMaxResponseSizeUDP is the EDNS(0) response size advertised
// upstream, matching the Go standard library.
const QueryMaxResponseSizeUDP = 1232

// Query describes the question forwarded upstream.
//
// Construct using [NewQuery].
type Query struct {
	// Name is the MANDATORY domain name to query.
	Name string

	// Type is the MANDATORY query type.
	Type uint16

	// ID is the query ID.
	ID uint16

	// Flags contains [QueryFlagBlockLengthPadding] and [QueryFlagDNSSec].
	Flags uint16

	// MaxSize is the EDNS(0) maximum response size.
	MaxSize uint16
}

// NewQuery returns a [*Query] with a random ID and [QueryMaxResponseSizeUDP].
func NewQuery(name string, qtype uint16) *Query {
	return &Query{
		Name:    name,
		Type:    qtype,
		ID:      dns.Id(),
		MaxSize: QueryMaxResponseSizeUDP,
	}
}

// NewMsg returns the [*dns.Msg] to send upstream.
//
// The name is converted to ASCII using punycode, which keeps labels
// such as "_dmarc" that a strict IDNA lookup profile would refuse.
func (q *Query) NewMsg() (*dns.Msg, error) {
	name := dnswire.TrimDot(q.Name)
	if name == "" || name == "." {
		return nil, ErrInvalidQuery
	}
	ascii, err := idna.Punycode.ToASCII(name)
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.Id = q.ID
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(ascii),
		Qtype:  q.Type,
		Qclass: dns.ClassINET,
	}}
	msg.SetEdns0(q.MaxSize, q.Flags&QueryFlagDNSSec != 0)

	// RFC8467 section 4.1: pad to a multiple of 128 octets, accounting
	// for the 4 octets of the padding option header.
	if q.Flags&QueryFlagBlockLengthPadding != 0 {
		const blockSize = 128
		size := (blockSize - (msg.Len()+4)%blockSize) % blockSize
		opt := msg.IsEdns0()
		opt.Option = append(opt.Option, &dns.EDNS0_PADDING{Padding: make([]byte, size)})
	}
	return msg, nil
}
