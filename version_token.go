package ges

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LATEST is the sentinel version representing "current head" in an
// in-memory VersionToken. It must never appear in a persisted event.
const LATEST = math.MaxInt64

const versionWidth = 20

// VersionToken is the canonical identity of an event position across
// object name, object id, stream, and version.
//
// Wire form: "<objectName>__<objectId>__<streamIdentifier>__<version>",
// with the version zero-padded to 20 decimal digits.
type VersionToken struct {
	ObjectName       string
	ObjectID         string
	StreamIdentifier string
	Version          int
}

// FromEventAndDocument derives the VersionToken of e within document's
// active stream.
func FromEventAndDocument(e Event, document *ObjectDocument) VersionToken {
	return VersionToken{
		ObjectName:       document.ObjectName,
		ObjectID:         document.ObjectID,
		StreamIdentifier: document.Active.StreamIdentifier,
		Version:          e.Version,
	}
}

// ToLatest returns a copy of t with Version set to the LATEST sentinel.
func (t VersionToken) ToLatest() VersionToken {
	t.Version = LATEST
	return t
}

// String formats t in its bit-exact wire form.
func (t VersionToken) String() string {
	return fmt.Sprintf("%s__%s__%s__%0*d", t.ObjectName, t.ObjectID, t.StreamIdentifier, versionWidth, t.Version)
}

// ParseVersionToken parses the bit-exact wire form produced by String.
// It requires exactly four "__"-delimited, non-empty parts, and a version
// segment that is exactly 20 zero-padded decimal digits.
func ParseVersionToken(s string) (VersionToken, error) {
	parts := strings.Split(s, "__")
	if len(parts) != 4 {
		return VersionToken{}, &MalformedTokenError{Input: s, Reason: fmt.Sprintf("expected 4 parts, got %d", len(parts))}
	}
	for i, p := range parts {
		if p == "" {
			return VersionToken{}, &MalformedTokenError{Input: s, Reason: fmt.Sprintf("part %d is empty", i)}
		}
	}
	versionPart := parts[3]
	if len(versionPart) != versionWidth {
		return VersionToken{}, &MalformedTokenError{Input: s, Reason: fmt.Sprintf("version segment must be %d digits, got %d", versionWidth, len(versionPart))}
	}
	version, err := strconv.Atoi(versionPart)
	if err != nil {
		return VersionToken{}, &MalformedTokenError{Input: s, Reason: "version segment is not decimal"}
	}
	return VersionToken{
		ObjectName:       parts[0],
		ObjectID:         parts[1],
		StreamIdentifier: parts[2],
		Version:          version,
	}, nil
}
