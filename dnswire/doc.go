// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnswire is a DNS wire format (RFC 1035) parser and serializer.
//
// [Decode] turns a raw message into a [*Packet] and [Encode] turns a
// [*Packet] back into bytes. The codec never retains the buffers it is
// given: decoded records own copies of the bytes they need.
//
// Record data is modeled as the closed set of [RData] types defined in
// this package. Types the codec does not know about decode as [Opaque]
// so that the record survives a decode/encode round trip unchanged.
//
// Decoding is strict. The header counts must describe exactly the
// records present in the buffer, compression pointers must point
// backward, and each name may follow at most [MaxPointerHops] pointers.
// Failures are returned as [*DecodeError] values wrapping one of the
// sentinel errors declared in this package.
//
// Names use the presentation format without the trailing dot. Label
// bytes equal to '.' or '\\' are escaped with a backslash, so a label
// such as "a.b" reads as `a\.b` and survives a round trip.
package dnswire
