// SPDX-License-Identifier: GPL-3.0-or-later

package dnsbuild

import (
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/bassosimone/dnsfwd/dnswire"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestBuildDomainResponse(t *testing.T) {
	b := NewBuilder()
	pkt := b.BuildDomainResponse("google.com", 1234)

	require.Equal(t, uint16(1234), pkt.Header.ID)
	require.True(t, pkt.Header.Response)
	require.Equal(t, uint16(1), pkt.Header.QDCount)
	require.Equal(t, uint16(1), pkt.Header.ANCount)
	require.Equal(t, []dnswire.Question{
		{Name: "google.com", Type: dnswire.TypeA, Class: dnswire.ClassINET},
	}, pkt.Questions)
	require.Equal(t, []dnswire.Record{{
		Name:  "google.com",
		Type:  dnswire.TypeA,
		Class: dnswire.ClassINET,
		TTL:   60,
		Data:  dnswire.A{Addr: netip.MustParseAddr("127.0.0.1")},
	}}, pkt.Answers)
}

func TestBuildMultiDomainResponse(t *testing.T) {
	names := []string{"a.example", "b.example", "c.example"}
	pkt := NewBuilder().BuildMultiDomainResponse(names, 7)
	require.Equal(t, uint16(3), pkt.Header.QDCount)
	require.Equal(t, uint16(3), pkt.Header.ANCount)
	for i, name := range names {
		require.Equal(t, name, pkt.Questions[i].Name)
		require.Equal(t, name, pkt.Answers[i].Name)
	}

	dup := NewBuilder().BuildMultiDomainResponse([]string{"a.example", "a.example."}, 9)
	require.Equal(t, uint16(2), dup.Header.QDCount)
	require.Equal(t, uint16(2), dup.Header.ANCount)
	require.True(t, dup.CountsInSync())

	empty := NewBuilder().BuildMultiDomainResponse(nil, 8)
	require.True(t, empty.CountsInSync())
	require.Empty(t, empty.Answers)
}

func TestBuilderReuse(t *testing.T) {
	b := NewBuilder()
	first := b.BuildDomainResponse("first.example", 1)
	second := b.BuildDomainResponse("second.example", 2)

	require.Equal(t, "first.example", first.Questions[0].Name)
	require.Equal(t, uint16(1), first.Header.ID)
	require.Len(t, first.Answers, 1)
	require.Equal(t, "second.example", second.Questions[0].Name)
	require.Equal(t, uint16(2), second.Header.ID)
	require.Len(t, second.Answers, 1)
}

func TestBuilderConcurrentUse(t *testing.T) {
	b := NewBuilder()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Go(func() {
			name := strings.Repeat("x", i+1) + ".example"
			pkt := b.BuildDomainResponse(name, uint16(i))
			require.Equal(t, name, pkt.Questions[0].Name)
			require.Equal(t, uint16(i), pkt.Header.ID)
		})
	}
	wg.Wait()
}

func TestBuildCustomResponse(t *testing.T) {
	query := &dnswire.Packet{
		Header: dnswire.Header{ID: 4321, RecursionDesired: true, Z: 1, Rcode: 5},
		Questions: []dnswire.Question{
			{Name: "x.com", Type: dnswire.TypeA, Class: dnswire.ClassINET},
		},
	}

	t.Run("NXDOMAIN", func(t *testing.T) {
		pkt := NewBuilder().BuildCustomResponse(query).
			WithARecord("x.com").
			WithRcode(dnswire.RcodeNameError).
			WithAuthoritative(true).
			Build()

		require.Equal(t, uint16(4321), pkt.Header.ID)
		require.Equal(t, dnswire.RcodeNameError, pkt.Header.Rcode)
		require.True(t, pkt.Header.Authoritative)
		require.True(t, pkt.Header.Response)
		require.True(t, pkt.Header.RecursionDesired)
		require.Zero(t, pkt.Header.Z)
		require.Len(t, pkt.Answers, 1)
		require.Equal(t, "x.com", pkt.Answers[0].Name)
		require.Equal(t, dnswire.TypeA, pkt.Answers[0].Type)
		require.Equal(t, uint16(1), pkt.Header.ANCount)
	})

	t.Run("EchoesQueryQuestions", func(t *testing.T) {
		pkt := NewBuilder().BuildCustomResponse(query).WithRcode(dnswire.RcodeServerFailure).Build()
		require.Equal(t, query.Questions, pkt.Questions)
		require.Equal(t, uint16(1), pkt.Header.QDCount)
		require.Zero(t, pkt.Header.ANCount)

		pkt.Questions[0].Name = "mutated.example"
		require.Equal(t, "x.com", query.Questions[0].Name)
	})

	t.Run("QueryIsNotModified", func(t *testing.T) {
		before := *query
		NewBuilder().BuildCustomResponse(query).WithMXRecord("x.com").WithAuthoritative(true).Build()
		require.Equal(t, before.Header, query.Header)
		require.Len(t, query.Questions, 1)
	})

	t.Run("Placeholders", func(t *testing.T) {
		pkt := NewBuilder().BuildCustomResponse(query).
			WithAAAARecord("x.com").
			WithCNAMERecord("www.x.com").
			WithMXRecord("x.com").
			WithTXTRecord("x.com").
			Build()
		require.Equal(t, []dnswire.RData{
			dnswire.AAAA{Addr: netip.IPv6Loopback()},
			dnswire.CNAME{Target: "localhost"},
			dnswire.MX{Preference: 10, Exchange: "localhost"},
			dnswire.TXT{Strings: []string{""}},
		}, []dnswire.RData{pkt.Answers[0].Data, pkt.Answers[1].Data, pkt.Answers[2].Data, pkt.Answers[3].Data})
	})
}

func TestCountsInvariant(t *testing.T) {
	query := &dnswire.Packet{
		Header:    dnswire.Header{ID: 1, RecursionDesired: true},
		Questions: []dnswire.Question{{Name: "q.example", Type: dnswire.TypeA, Class: dnswire.ClassINET}},
	}
	soa := dnswire.Record{Name: "example", Type: dnswire.TypeSOA, Class: dnswire.ClassINET, TTL: 60,
		Data: dnswire.SOA{MName: "ns.example", RName: "admin.example"}}

	tests := []struct {
		name  string
		chain func(pb *PacketBuilder) *PacketBuilder
	}{
		{"Nothing", func(pb *PacketBuilder) *PacketBuilder { return pb }},
		{"DuplicateQuestion", func(pb *PacketBuilder) *PacketBuilder {
			return pb.WithARecord("a.example").WithARecord("a.example.").WithQuestion("A.example", dnswire.TypeA, dnswire.ClassINET)
		}},
		{"MixedTypes", func(pb *PacketBuilder) *PacketBuilder {
			return pb.WithARecord("a.example").WithAAAARecord("a.example").WithTXTRecord("t.example")
		}},
		{"QuestionOnly", func(pb *PacketBuilder) *PacketBuilder {
			return pb.WithQuestion("q.example", dnswire.TypeMX, dnswire.ClassINET)
		}},
		{"AllSections", func(pb *PacketBuilder) *PacketBuilder {
			return pb.WithCNAMEAnswer("www.example", "example", 30).
				WithAAnswer("example", netip.MustParseAddr("192.0.2.1"), 30).
				WithAuthority(soa).
				WithAdditional(dnswire.Record{Name: ".", Type: dnswire.TypeOPT, Class: 1232})
		}},
		{"WithoutAnswers", func(pb *PacketBuilder) *PacketBuilder {
			return pb.WithARecord("a.example").WithAuthority(soa).WithoutAnswers().WithRcode(dnswire.RcodeNameError)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := tt.chain(NewBuilder().BuildCustomResponse(query)).Build()
			require.True(t, pkt.CountsInSync())

			raw, err := dnswire.Encode(&pkt)
			require.NoError(t, err)
			decoded, err := dnswire.Decode(raw)
			require.NoError(t, err)
			require.Equal(t, pkt.Header, decoded.Header)
		})
	}
}

func TestBuildIsDetachedFromSession(t *testing.T) {
	pb := NewBuilder().BuildCustomResponse(&dnswire.Packet{}).WithARecord("a.example")
	first := pb.Build()
	second := pb.WithARecord("b.example").Build()
	require.Len(t, first.Answers, 1)
	require.Equal(t, uint16(1), first.Header.ANCount)
	require.Len(t, second.Answers, 2)
}

func TestNames(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"bücher.example", "xn--bcher-kva.example"},
		{"example.com.", "example.com"},
		{"_dmarc.example.com", "_dmarc.example.com"},
		{".", "."},
		{"", "."},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pkt := NewBuilder().BuildDomainResponse(tt.input, 1)
			require.Equal(t, tt.expected, pkt.Questions[0].Name)
		})
	}
}

func TestWithTXTAnswerSplitsLongText(t *testing.T) {
	text := strings.Repeat("a", 300)
	pkt := NewBuilder().BuildCustomResponse(&dnswire.Packet{}).WithTXTAnswer("t.example", text, 5).Build()
	txt := pkt.Answers[0].Data.(dnswire.TXT)
	require.Len(t, txt.Strings, 2)
	require.Equal(t, text, strings.Join(txt.Strings, ""))
}

func TestEncodedResponseIsValidDNS(t *testing.T) {
	pkt := NewBuilder().BuildCustomResponse(&dnswire.Packet{Header: dnswire.Header{ID: 99}}).
		WithARecord("x.com").
		WithMXAnswer("x.com", 5, "mail.x.com", 120).
		Build()

	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(runtimex.PanicOnError1(dnswire.Encode(&pkt))))
	require.Equal(t, uint16(99), msg.Id)
	require.Len(t, msg.Answer, 2)
	require.Equal(t, "127.0.0.1", msg.Answer[0].(*dns.A).A.String())
	require.Equal(t, "mail.x.com.", msg.Answer[1].(*dns.MX).Mx)
}
