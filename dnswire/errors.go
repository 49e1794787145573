// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

import (
	"errors"
	"fmt"
)

// Errors wrapped by [*DecodeError].
var (
	// ErrTruncated means the buffer ends in the middle of a field.
	ErrTruncated = errors.New("truncated message")

	// ErrInvalidLabel means a label length byte uses a reserved encoding.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrBadPointer means a compression pointer is not strictly backward,
	// points into the header, or exceeds [MaxPointerHops].
	ErrBadPointer = errors.New("bad compression pointer")

	// ErrNameTooLong means a name exceeds [MaxNameLength].
	ErrNameTooLong = errors.New("name too long")

	// ErrCountMismatch means the header counts do not describe the
	// records actually present in the buffer.
	ErrCountMismatch = errors.New("section counts do not match content")

	// ErrBadRData means the record data does not match its declared length.
	ErrBadRData = errors.New("malformed record data")
)

// Errors wrapped by [*EncodeError].
var (
	// ErrLabelTooLong means a label exceeds [MaxLabelLength].
	ErrLabelTooLong = errors.New("label too long")

	// ErrEmptyLabel means a name contains two consecutive dots.
	ErrEmptyLabel = errors.New("empty label")

	// ErrRDataMismatch means the record data does not fit the record type.
	ErrRDataMismatch = errors.New("record data does not match record type")

	// ErrRDataTooLong means the record data or a TXT string is too long.
	ErrRDataTooLong = errors.New("record data too long")

	// ErrTooManyRecords means a section has more than 65535 entries.
	ErrTooManyRecords = errors.New("too many records in section")
)

// DecodeError is the error returned by [Decode] and [DecodeRecord].
type DecodeError struct {
	// Section is the message section being decoded.
	Section string

	// Offset is the buffer offset where decoding failed.
	Offset int

	// Err is one of the sentinel errors of this package.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dnswire: decoding %s at offset %d: %s", e.Section, e.Offset, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is the error returned by [Encode] and [AppendEncode].
type EncodeError struct {
	// Section is the message section being encoded.
	Section string

	// Name is the owner name of the offending entry, if any.
	Name string

	// Err is one of the sentinel errors of this package.
	Err error
}

func (e *EncodeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("dnswire: encoding %s %q: %s", e.Section, e.Name, e.Err.Error())
	}
	return fmt.Sprintf("dnswire: encoding %s: %s", e.Section, e.Err.Error())
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
