// SPDX-License-Identifier: GPL-3.0-or-later

package dnsbuild

import (
	"net/netip"
	"slices"

	"github.com/bassosimone/dnsfwd/dnswire"
)

// PacketBuilder is a response construction session.
//
// Construct using [*Builder.BuildCustomResponse].
type PacketBuilder struct {
	builder    *Builder
	header     dnswire.Header
	echo       []dnswire.Question
	questions  []dnswire.Question
	answers    []dnswire.Record
	authority  []dnswire.Record
	additional []dnswire.Record
}

// WithARecord adds an A question for name and a placeholder answer.
func (pb *PacketBuilder) WithARecord(name string) *PacketBuilder {
	return pb.withPlaceholder(name, dnswire.TypeA, dnswire.A{Addr: pb.builder.IPv4})
}

// WithAAAARecord adds an AAAA question for name and a placeholder answer.
func (pb *PacketBuilder) WithAAAARecord(name string) *PacketBuilder {
	return pb.withPlaceholder(name, dnswire.TypeAAAA, dnswire.AAAA{Addr: pb.builder.IPv6})
}

// WithCNAMERecord adds a CNAME question for name and a placeholder answer.
func (pb *PacketBuilder) WithCNAMERecord(name string) *PacketBuilder {
	return pb.withPlaceholder(name, dnswire.TypeCNAME,
		dnswire.CNAME{Target: normalizeName(pb.builder.Target)})
}

// WithMXRecord adds an MX question for name and a placeholder answer.
func (pb *PacketBuilder) WithMXRecord(name string) *PacketBuilder {
	return pb.withPlaceholder(name, dnswire.TypeMX, dnswire.MX{
		Preference: pb.builder.MXPreference,
		Exchange:   normalizeName(pb.builder.Target),
	})
}

// WithTXTRecord adds a TXT question for name and a placeholder answer.
func (pb *PacketBuilder) WithTXTRecord(name string) *PacketBuilder {
	return pb.withPlaceholder(name, dnswire.TypeTXT,
		dnswire.TXT{Strings: []string{pb.builder.Text}})
}

func (pb *PacketBuilder) withPlaceholder(name string, rtype uint16, data dnswire.RData) *PacketBuilder {
	pb.addQuestion(pb.placeholder(name, rtype, data))
	return pb
}

// placeholder appends a placeholder answer and returns its question.
func (pb *PacketBuilder) placeholder(name string, rtype uint16, data dnswire.RData) dnswire.Question {
	name = normalizeName(name)
	pb.answers = append(pb.answers, dnswire.Record{
		Name:  name,
		Type:  rtype,
		Class: dnswire.ClassINET,
		TTL:   pb.builder.TTL,
		Data:  data,
	})
	return dnswire.Question{Name: name, Type: rtype, Class: dnswire.ClassINET}
}

// WithQuestion adds a question unless an identical one is present.
func (pb *PacketBuilder) WithQuestion(name string, qtype, qclass uint16) *PacketBuilder {
	pb.addQuestion(dnswire.Question{Name: normalizeName(name), Type: qtype, Class: qclass})
	return pb
}

func (pb *PacketBuilder) addQuestion(q dnswire.Question) {
	if !slices.Contains(pb.questions, q) {
		pb.questions = append(pb.questions, q)
	}
}

// WithAuthoritative sets the AA flag.
func (pb *PacketBuilder) WithAuthoritative(value bool) *PacketBuilder {
	pb.header.Authoritative = value
	return pb
}

// WithRcode sets the response code. The value is stored as is.
func (pb *PacketBuilder) WithRcode(rcode uint8) *PacketBuilder {
	pb.header.Rcode = rcode
	return pb
}

// WithRecursionAvailable sets the RA flag.
func (pb *PacketBuilder) WithRecursionAvailable(value bool) *PacketBuilder {
	pb.header.RecursionAvailable = value
	return pb
}

// WithTruncated sets the TC flag.
func (pb *PacketBuilder) WithTruncated(value bool) *PacketBuilder {
	pb.header.Truncated = value
	return pb
}

// WithAnswer appends rr to the answer section.
func (pb *PacketBuilder) WithAnswer(rr dnswire.Record) *PacketBuilder {
	pb.answers = append(pb.answers, rr)
	return pb
}

// WithAnswers appends rrs to the answer section.
func (pb *PacketBuilder) WithAnswers(rrs ...dnswire.Record) *PacketBuilder {
	pb.answers = append(pb.answers, rrs...)
	return pb
}

// WithAAnswer appends an A record to the answer section.
func (pb *PacketBuilder) WithAAnswer(name string, addr netip.Addr, ttl uint32) *PacketBuilder {
	return pb.WithAnswer(pb.record(name, dnswire.TypeA, ttl, dnswire.A{Addr: addr}))
}

// WithAAAAAnswer appends an AAAA record to the answer section.
func (pb *PacketBuilder) WithAAAAAnswer(name string, addr netip.Addr, ttl uint32) *PacketBuilder {
	return pb.WithAnswer(pb.record(name, dnswire.TypeAAAA, ttl, dnswire.AAAA{Addr: addr}))
}

// WithCNAMEAnswer appends a CNAME record to the answer section.
func (pb *PacketBuilder) WithCNAMEAnswer(name, target string, ttl uint32) *PacketBuilder {
	return pb.WithAnswer(pb.record(name, dnswire.TypeCNAME, ttl,
		dnswire.CNAME{Target: normalizeName(target)}))
}

// WithMXAnswer appends an MX record to the answer section.
func (pb *PacketBuilder) WithMXAnswer(name string, preference uint16, exchange string, ttl uint32) *PacketBuilder {
	return pb.WithAnswer(pb.record(name, dnswire.TypeMX, ttl,
		dnswire.MX{Preference: preference, Exchange: normalizeName(exchange)}))
}

// WithTXTAnswer appends a TXT record to the answer section.
//
// Text longer than 255 bytes is split into several strings.
func (pb *PacketBuilder) WithTXTAnswer(name, text string, ttl uint32) *PacketBuilder {
	return pb.WithAnswer(pb.record(name, dnswire.TypeTXT, ttl, dnswire.TXT{Strings: splitText(text)}))
}

func (pb *PacketBuilder) record(name string, rtype uint16, ttl uint32, data dnswire.RData) dnswire.Record {
	return dnswire.Record{Name: normalizeName(name), Type: rtype, Class: dnswire.ClassINET, TTL: ttl, Data: data}
}

func splitText(text string) []string {
	out := []string{}
	for len(text) > 255 {
		out = append(out, text[:255])
		text = text[255:]
	}
	return append(out, text)
}

// WithAuthority appends rr to the authority section.
func (pb *PacketBuilder) WithAuthority(rr dnswire.Record) *PacketBuilder {
	pb.authority = append(pb.authority, rr)
	return pb
}

// WithAdditional appends rr to the additional section.
func (pb *PacketBuilder) WithAdditional(rr dnswire.Record) *PacketBuilder {
	pb.additional = append(pb.additional, rr)
	return pb
}

// WithoutAnswers removes every record accumulated so far from the
// answer, authority and additional sections.
func (pb *PacketBuilder) WithoutAnswers() *PacketBuilder {
	pb.answers = nil
	pb.authority = nil
	pb.additional = nil
	return pb
}

// Build returns the response packet.
//
// When no question was added, the questions of the query are echoed.
// The returned packet does not share memory with the session, which
// may keep being used.
func (pb *PacketBuilder) Build() dnswire.Packet {
	questions := pb.questions
	if len(questions) == 0 {
		questions = pb.echo
	}
	pkt := dnswire.Packet{
		Header:     pb.header,
		Questions:  slices.Clone(questions),
		Answers:    slices.Clone(pb.answers),
		Authority:  slices.Clone(pb.authority),
		Additional: slices.Clone(pb.additional),
	}
	pkt.SyncCounts()
	return pkt
}
