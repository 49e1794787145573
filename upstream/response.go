//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/bassosimone/dnscodec/blob/main/response.go
// Adapted from: https://github.com/golang/go/blob/go1.21.10/src/net/dnsclient_unix.go
//

package upstream

import (
	"errors"
	"fmt"

	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/miekg/dns"
)

// These error messages use the same suffixes used by the Go standard library.
var (
	// ErrInvalidQuery means that the query does not contain a single question.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrCannotUnmarshalMessage means that the upstream reply is not a DNS message.
	ErrCannotUnmarshalMessage = errors.New("cannot unmarshal DNS message")

	// ErrInvalidResponse means that the reply is not a response or its
	// question does not match the query.
	ErrInvalidResponse = errors.New("invalid DNS response")

	// ErrNoName means that the upstream answered NXDOMAIN.
	ErrNoName = errors.New("no such host")

	// ErrServerMisbehaving means that the upstream answered with an RCODE
	// other than NOERROR, NXDOMAIN and SERVFAIL.
	ErrServerMisbehaving = errors.New("server misbehaving")

	// ErrServerTemporarilyMisbehaving means that the upstream answered SERVFAIL.
	ErrServerTemporarilyMisbehaving = errors.New("server misbehaving")

	// ErrNoData means that the reply contains no answer for the question.
	ErrNoData = errors.New("no answer from DNS server")
)

// maxCNAMEChain bounds the names of a CNAME chain, the query name included.
const maxCNAMEChain = 8

// ValidateResponseForQuery checks that resp answers query and returns
// the question of the query.
func ValidateResponseForQuery(query, resp *dns.Msg) (dns.Question, error) {
	if len(query.Question) != 1 {
		return dns.Question{}, ErrInvalidQuery
	}
	if !resp.Response || resp.Id != query.Id || len(resp.Question) != 1 {
		return dns.Question{}, ErrInvalidResponse
	}
	q0, r0 := query.Question[0], resp.Question[0]
	if !sameName(q0.Name, r0.Name) || q0.Qtype != r0.Qtype || q0.Qclass != r0.Qclass {
		return dns.Question{}, ErrInvalidResponse
	}
	return q0, nil
}

func sameName(x, y string) bool {
	return dns.CanonicalName(x) == dns.CanonicalName(y)
}

// ResponseErrorFromRCODE maps the RCODE of a validated response to an error.
//
// A NOERROR reply that is neither authoritative nor recursive and carries
// no answers is a lame referral and maps to [ErrNoData]. Other NOERROR
// replies map to nil.
func ResponseErrorFromRCODE(resp *dns.Msg) error {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		if !resp.Authoritative && !resp.RecursionAvailable && len(resp.Answer) == 0 {
			return ErrNoData
		}
		return nil
	case dns.RcodeNameError:
		return ErrNoName
	case dns.RcodeServerFailure:
		return ErrServerTemporarilyMisbehaving
	default:
		return ErrServerMisbehaving
	}
}

// ResponseExtractValidAnswers returns the answers owned by the query name
// or by a name reachable from it through a CNAME chain, in wire order.
//
// It returns [ErrNoData] when no answer qualifies.
func ResponseExtractValidAnswers(q0 dns.Question, resp *dns.Msg) ([]dns.RR, error) {
	chain := map[string]bool{dns.CanonicalName(q0.Name): true}
	for _, rr := range resp.Answer {
		cname, ok := rr.(*dns.CNAME)
		if !ok || cname.Hdr.Class != q0.Qclass || len(chain) >= maxCNAMEChain {
			continue
		}
		if chain[dns.CanonicalName(cname.Hdr.Name)] {
			chain[dns.CanonicalName(cname.Target)] = true
		}
	}

	var valid []dns.RR
	for _, rr := range resp.Answer {
		hdr := rr.Header()
		if hdr.Class == q0.Qclass && chain[dns.CanonicalName(hdr.Name)] {
			valid = append(valid, rr)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoData
	}
	return valid, nil
}

// Response is a validated upstream response.
//
// Construct using [ParseResponse].
type Response struct {
	// Query is the message sent upstream.
	Query *dns.Msg

	// Response is the message received from upstream.
	Response *dns.Msg

	// ValidRRs contains the answers pertinent to the query.
	ValidRRs []dns.RR
}

// ParseResponse validates resp against query and extracts the valid answers.
func ParseResponse(query, resp *dns.Msg) (*Response, error) {
	q0, err := ValidateResponseForQuery(query, resp)
	if err != nil {
		return nil, err
	}
	if err := ResponseErrorFromRCODE(resp); err != nil {
		return nil, err
	}
	rrs, err := ResponseExtractValidAnswers(q0, resp)
	if err != nil {
		return nil, err
	}
	return &Response{Query: query, Response: resp, ValidRRs: rrs}, nil
}

// Records converts the valid answers into codec records.
func (r *Response) Records() ([]dnswire.Record, error) {
	out := make([]dnswire.Record, 0, len(r.ValidRRs))
	for _, rr := range r.ValidRRs {
		record, err := RecordFromRR(rr)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// RecordFromRR converts a [dns.RR] into a [dnswire.Record].
//
// The record is packed alone in an uncompressed message, so the bytes
// following the header are exactly the wire form of the record.
func RecordFromRR(rr dns.RR) (dnswire.Record, error) {
	msg := &dns.Msg{Answer: []dns.RR{rr}}
	raw, err := msg.Pack()
	if err != nil {
		return dnswire.Record{}, fmt.Errorf("upstream: packing %s record: %w", dns.TypeToString[rr.Header().Rrtype], err)
	}
	return dnswire.DecodeRecord(raw[dnswire.HeaderSize:])
}
