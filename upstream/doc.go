// SPDX-License-Identifier: GPL-3.0-or-later

// Package upstream exchanges queries with the upstream recursive resolver.
//
// [NewQuery] and [*Query] construct the [*dns.Msg] sent upstream. [Exchange]
// performs a single round trip over an existing [*dns.Conn]. [ParseResponse]
// validates the reply and [*Response.Records] converts the valid answers
// into [dnswire.Record] values ready to be forwarded to clients.
//
// The upstream side uses [github.com/miekg/dns] messages. The client side
// of the forwarder uses the codec in [github.com/bassosimone/dnsfwd/dnswire].
package upstream
