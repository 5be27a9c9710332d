// Package classifier decides which room participants are telephony legs
// and extracts call diagnostics from their attributes.
package classifier

import (
	"firestige.xyz/callmon/internal/core"
)

// Default attribute keys set by the SIP bridge on signaling participants.
const (
	AttrCallStatus        = "sip.callStatus"
	AttrOriginNumber      = "sip.from"
	AttrDestinationNumber = "sip.to"
)

// Keys names the attributes that carry call state.
type Keys struct {
	CallStatus        string
	OriginNumber      string
	DestinationNumber string
}

// DefaultKeys returns the attribute keys used by the SIP bridge.
func DefaultKeys() Keys {
	return Keys{
		CallStatus:        AttrCallStatus,
		OriginNumber:      AttrOriginNumber,
		DestinationNumber: AttrDestinationNumber,
	}
}

// Classifier is a pure predicate over participant attributes.
type Classifier struct {
	keys Keys
}

// New creates a classifier; empty keys fall back to DefaultKeys.
func New(keys Keys) *Classifier {
	def := DefaultKeys()
	if keys.CallStatus == "" {
		keys.CallStatus = def.CallStatus
	}
	if keys.OriginNumber == "" {
		keys.OriginNumber = def.OriginNumber
	}
	if keys.DestinationNumber == "" {
		keys.DestinationNumber = def.DestinationNumber
	}
	return &Classifier{keys: keys}
}

// Keys returns the attribute keys in use.
func (c *Classifier) Keys() Keys { return c.keys }

// IsTelephonyParticipant reports whether p carries a call-status or an
// origin-number attribute.
func (c *Classifier) IsTelephonyParticipant(p core.Participant) bool {
	if _, ok := p.Attr(c.keys.CallStatus); ok {
		return true
	}
	_, ok := p.Attr(c.keys.OriginNumber)
	return ok
}

// FindQualifyingParticipant returns the first participant of roster, in
// snapshot order, that is a telephony participant.
func (c *Classifier) FindQualifyingParticipant(roster []core.Participant) (core.Participant, bool) {
	for _, p := range roster {
		if c.IsTelephonyParticipant(p) {
			return p, true
		}
	}
	return core.Participant{}, false
}

// CallStatus returns the call-status attribute, or "" when unset.
func (c *Classifier) CallStatus(p core.Participant) string {
	v, _ := p.Attr(c.keys.CallStatus)
	return v
}

// IsHangup reports whether p's call-status says the caller hung up.
func (c *Classifier) IsHangup(p core.Participant) bool {
	return c.CallStatus(p) == core.CallStatusHangup
}
