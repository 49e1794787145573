// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnsbuild constructs DNS response packets.
//
// A [*Builder] holds configuration defaults only and may be shared by
// many goroutines. Each call to [*Builder.BuildCustomResponse] starts an
// independent [*PacketBuilder] session whose chainable methods accumulate
// sections and whose [*PacketBuilder.Build] method returns a
// [dnswire.Packet] with header counts matching the section lengths.
package dnsbuild

import (
	"net/netip"

	"github.com/bassosimone/dnsfwd/dnswire"
	"golang.org/x/net/idna"
)

// Builder contains the defaults used to fill placeholder records.
//
// Construct using [NewBuilder]. Do not mutate the fields while
// the builder is in use by other goroutines.
type Builder struct {
	// TTL is the TTL of placeholder records.
	TTL uint32

	// IPv4 is the address of placeholder A records.
	IPv4 netip.Addr

	// IPv6 is the address of placeholder AAAA records.
	IPv6 netip.Addr

	// Target is the target of placeholder CNAME records and the
	// exchange of placeholder MX records.
	Target string

	// MXPreference is the preference of placeholder MX records.
	MXPreference uint16

	// Text is the content of placeholder TXT records.
	Text string

	// RecursionAvailable is the RA flag of built responses.
	RecursionAvailable bool
}

// NewBuilder returns a [*Builder] with the default settings.
func NewBuilder() *Builder {
	return &Builder{
		TTL:                60,
		IPv4:               netip.AddrFrom4([4]byte{127, 0, 0, 1}),
		IPv6:               netip.IPv6Loopback(),
		Target:             "localhost",
		MXPreference:       10,
		Text:               "",
		RecursionAvailable: true,
	}
}

// BuildDomainResponse returns a response for an A query of name with
// the given transaction ID, answered using the default IPv4 address.
func (b *Builder) BuildDomainResponse(name string, id uint16) dnswire.Packet {
	return b.BuildMultiDomainResponse([]string{name}, id)
}

// BuildMultiDomainResponse is like [*Builder.BuildDomainResponse] but
// emits one question and one A answer per name. Repeated names are
// kept, so both counts always equal len(names).
func (b *Builder) BuildMultiDomainResponse(names []string, id uint16) dnswire.Packet {
	query := &dnswire.Packet{Header: dnswire.Header{ID: id, RecursionDesired: true}}
	pb := b.BuildCustomResponse(query)
	for _, name := range names {
		pb.questions = append(pb.questions, pb.placeholder(name, dnswire.TypeA, dnswire.A{Addr: b.IPv4}))
	}
	return pb.Build()
}

// BuildCustomResponse starts a session building the response to query.
//
// The ID, opcode and RD bit are copied from the query header. The
// returned session must not be used concurrently.
func (b *Builder) BuildCustomResponse(query *dnswire.Packet) *PacketBuilder {
	return &PacketBuilder{
		builder: b,
		header: dnswire.Header{
			ID:                 query.Header.ID,
			Response:           true,
			Opcode:             query.Header.Opcode,
			RecursionDesired:   query.Header.RecursionDesired,
			RecursionAvailable: b.RecursionAvailable,
		},
		echo: query.Questions,
	}
}

// normalizeName converts name to its ASCII form without the trailing dot.
//
// Names that cannot be converted are returned unchanged so that encoding
// reports the problem.
func normalizeName(name string) string {
	if name == "." || name == "" {
		return "."
	}
	if ascii, err := idna.Punycode.ToASCII(name); err == nil {
		name = ascii
	}
	if trimmed := dnswire.TrimDot(name); trimmed != "" && trimmed != "." {
		return trimmed
	}
	return "."
}
