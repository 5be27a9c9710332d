package core

import "maps"

// Participant is a member of a session as reported by the room directory.
type Participant struct {
	Identity   string            `json:"identity" yaml:"identity"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Attr returns the value of attribute key and whether it is present.
// It is safe on a participant with no attributes.
func (p Participant) Attr(key string) (string, bool) {
	if p.Attributes == nil {
		return "", false
	}
	v, ok := p.Attributes[key]
	return v, ok
}

// Clone returns a copy whose attribute map is not shared with p.
func (p Participant) Clone() Participant {
	c := p
	if p.Attributes != nil {
		c.Attributes = maps.Clone(p.Attributes)
	}
	return c
}

// Lookup returns the participant with the given identity from a roster snapshot.
func Lookup(roster []Participant, identity string) (Participant, bool) {
	for _, p := range roster {
		if p.Identity == identity {
			return p, true
		}
	}
	return Participant{}, false
}
