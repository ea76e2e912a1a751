package ges_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
)

func TestVersionToken_RoundTrip(t *testing.T) {
	t.Parallel()

	tok := ges.VersionToken{
		ObjectName:       "Account",
		ObjectID:         "acct-1",
		StreamIdentifier: "Account:acct-1",
		Version:          42,
	}

	s := tok.String()
	assert.True(t, strings.HasSuffix(s, strings.Repeat("0", 18)+"42"))

	parsed, err := ges.ParseVersionToken(s)
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)
}

func TestVersionToken_ToLatest(t *testing.T) {
	t.Parallel()

	tok := ges.VersionToken{ObjectName: "Account", ObjectID: "a", StreamIdentifier: "s", Version: 3}
	latest := tok.ToLatest()
	assert.Equal(t, ges.LATEST, latest.Version)
	assert.Equal(t, 3, tok.Version, "ToLatest must not mutate the receiver")
}

func TestParseVersionToken_Malformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"a__b__c",
		"a__b__c__d__e",
		"__b__c__00000000000000000001",
		"a__b__c__1",
		"a__b__c__abcdefghijklmnopqrst",
	}
	for _, s := range cases {
		_, err := ges.ParseVersionToken(s)
		require.Error(t, err, "input %q", s)
		assert.ErrorIs(t, err, ges.ErrMalformedToken)
	}
}

func TestFromEventAndDocument(t *testing.T) {
	t.Parallel()

	doc := &ges.ObjectDocument{
		ObjectName: "Account",
		ObjectID:   "acct-1",
		Active:     ges.StreamInformation{StreamIdentifier: "Account:acct-1"},
	}
	event := ges.Event{Version: 7}

	tok := ges.FromEventAndDocument(event, doc)
	assert.Equal(t, ges.VersionToken{
		ObjectName:       "Account",
		ObjectID:         "acct-1",
		StreamIdentifier: "Account:acct-1",
		Version:          7,
	}, tok)
}
