package classifier

import (
	"maps"
	"strings"

	"github.com/ghettovoice/gosip/sip/parser"

	"firestige.xyz/callmon/internal/core"
)

// Unknown is reported for call attributes that are absent.
const Unknown = "unknown"

// CallInfo is the diagnostic view of a bound signaling participant.
type CallInfo struct {
	Identity    string            `json:"identity" yaml:"identity"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Origin      string            `json:"origin" yaml:"origin"`
	Destination string            `json:"destination" yaml:"destination"`
	Status      string            `json:"status,omitempty" yaml:"status,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Describe captures the call attributes of p. Missing numbers are Unknown.
func (c *Classifier) Describe(p core.Participant) CallInfo {
	info := CallInfo{
		Identity:    p.Identity,
		Name:        p.Name,
		Origin:      Unknown,
		Destination: Unknown,
		Status:      c.CallStatus(p),
		Attributes:  maps.Clone(p.Attributes),
	}
	if v, ok := p.Attr(c.keys.OriginNumber); ok && v != "" {
		info.Origin = NumberFromURI(v)
	}
	if v, ok := p.Attr(c.keys.DestinationNumber); ok && v != "" {
		info.Destination = NumberFromURI(v)
	}
	return info
}

// NumberFromURI returns the user part of a sip:, sips: or tel: URI, or s
// unchanged when it is not a URI.
func NumberFromURI(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "tel:"):
		number := s[len("tel:"):]
		if i := strings.IndexByte(number, ';'); i >= 0 {
			number = number[:i]
		}
		return number
	case strings.HasPrefix(lower, "sip:"), strings.HasPrefix(lower, "sips:"):
		uri, err := parser.ParseUri(s)
		if err != nil {
			return s
		}
		if user := uri.User(); user != nil && user.String() != "" {
			return user.String()
		}
		return s
	default:
		return s
	}
}

// NormalizeE164 strips everything but digits from number and prefixes "+".
// It returns "" when no digits remain.
func NormalizeE164(number string) string {
	number = NumberFromURI(number)
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}
