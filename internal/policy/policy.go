// Package policy derives a guest's service entitlements from their
// directory record. It is the single gate for booking-sensitive
// content: the prompt composer unlocks the menu and campaign blocks
// only when both flags are set.
package policy

import (
	"strings"

	"github.com/illoraretreats/concierge/internal/directory"
)

type State struct {
	Booked   bool
	Verified bool
}

// Sheet cells that mean "no value". Compared case-insensitively after
// trimming, so "N/A" and "None" count too.
var placeholders = map[string]struct{}{
	"-":    {},
	"none": {},
	"":     {},
	"n/a":  {},
}

func isPlaceholder(v string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// Evaluate recomputes the policy state from the current record
// snapshot. A nil record (unresolved guest) grants nothing.
//
// Booked is true when the workflow stage is "confirmed" (any casing),
// or a real booking id exists, or a room has been allotted. Verified
// is true when the id-proof cell says "done" or holds anything
// URL-shaped.
func Evaluate(rec *directory.GuestRecord) State {
	if rec == nil {
		return State{}
	}

	var st State
	switch {
	case strings.EqualFold(strings.TrimSpace(rec.WorkflowStage), "confirmed"):
		st.Booked = true
	case !isPlaceholder(rec.BookingID):
		st.Booked = true
	case !isPlaceholder(rec.Room):
		st.Booked = true
	}

	proof := strings.ToLower(strings.TrimSpace(rec.IDProof))
	st.Verified = proof == "done" || strings.Contains(proof, "http")
	return st
}
