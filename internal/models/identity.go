package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// UnknownLocationSentinel stands in for a missing or unknown location name
// in the identity hash so that two candidates without a venue still collapse
// onto the same identity.
const UnknownLocationSentinel = "unbekannt"

// identityTimezone is the zone used to derive the calendar date component of
// an event identity. Fixed so the identity is stable no matter which offset
// a source reported the start time in.
var identityTimezone = mustLoadLocation("Europe/Berlin")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("CET", 60*60)
	}
	return loc
}

// identityPunctuation are the runes stripped before hashing. Punctuation
// varies between listings of the same event (dashes, quotes, trailing dots)
// and must not change the identity.
const identityPunctuation = ".,!?:;-–—'\""

// NormalizeIdentityPart canonicalizes one component of the identity hash:
// NFKC Unicode normalization, lower-casing, stripping of the punctuation set
// above, and collapsing of all interior whitespace to single spaces. The
// exact sequence is part of the identity contract; changing any step changes
// every stored event ID.
func NormalizeIdentityPart(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(identityPunctuation, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// EventID derives the stable content-hash identity of an event from its
// normalized title, the calendar date of its start (time of day is dropped
// deliberately, so several showings of the same event on one day share one
// identity), and its normalized location name. A nil or unknown location
// name maps to a fixed sentinel. The ID is
// "evt_" + first 16 hex chars of sha256(title|date|location).
func EventID(title string, dateStart time.Time, locationName *string) string {
	normalizedTitle := NormalizeIdentityPart(title)
	dateStr := dateStart.In(identityTimezone).Format("2006-01-02")

	normalizedLocation := ""
	if locationName != nil {
		normalizedLocation = NormalizeIdentityPart(*locationName)
	}
	if normalizedLocation == "" {
		normalizedLocation = UnknownLocationSentinel
	}

	input := fmt.Sprintf("%s|%s|%s", normalizedTitle, dateStr, normalizedLocation)
	hash := sha256.Sum256([]byte(input))
	return "evt_" + hex.EncodeToString(hash[:])[:16]
}

// IdentityOf computes the identity of a normalized event.
func IdentityOf(e *Event) string {
	return EventID(e.Title, e.DateStart, e.Location.Name)
}
