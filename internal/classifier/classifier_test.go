package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callmon/internal/core"
)

func participant(identity string, attrs map[string]string) core.Participant {
	return core.Participant{Identity: identity, Attributes: attrs}
}

func TestIsTelephonyParticipant(t *testing.T) {
	c := New(Keys{})

	tests := []struct {
		name  string
		attrs map[string]string
		want  bool
	}{
		{"nil attributes", nil, false},
		{"empty attributes", map[string]string{}, false},
		{"call status only", map[string]string{AttrCallStatus: "active"}, true},
		{"empty call status counts as present", map[string]string{AttrCallStatus: ""}, true},
		{"origin only", map[string]string{AttrOriginNumber: "+15551234567"}, true},
		{"destination only", map[string]string{AttrDestinationNumber: "+15557654321"}, false},
		{"unrelated sip attribute", map[string]string{"sip.trunkID": "ST_1"}, false},
		{"both", map[string]string{AttrCallStatus: "active", AttrOriginNumber: "+1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsTelephonyParticipant(participant("p", tt.attrs)))
		})
	}
}

func TestCustomKeys(t *testing.T) {
	c := New(Keys{OriginNumber: "sip.phoneNumber"})

	assert.True(t, c.IsTelephonyParticipant(participant("p", map[string]string{"sip.phoneNumber": "+1"})))
	assert.False(t, c.IsTelephonyParticipant(participant("p", map[string]string{AttrOriginNumber: "+1"})))
	assert.Equal(t, AttrCallStatus, c.Keys().CallStatus)
}

func TestFindQualifyingParticipant(t *testing.T) {
	c := New(DefaultKeys())

	t.Run("empty roster", func(t *testing.T) {
		_, ok := c.FindQualifyingParticipant(nil)
		assert.False(t, ok)
	})

	t.Run("no qualifying participant", func(t *testing.T) {
		_, ok := c.FindQualifyingParticipant([]core.Participant{participant("agent", nil)})
		assert.False(t, ok)
	})

	t.Run("first in snapshot order", func(t *testing.T) {
		roster := []core.Participant{
			participant("agent", nil),
			participant("caller-2", map[string]string{AttrCallStatus: "active"}),
			participant("caller-1", map[string]string{AttrOriginNumber: "+15551234567"}),
		}
		for i := 0; i < 3; i++ {
			p, ok := c.FindQualifyingParticipant(roster)
			require.True(t, ok)
			assert.Equal(t, "caller-2", p.Identity)
		}
	})
}

func TestIsHangup(t *testing.T) {
	c := New(DefaultKeys())

	assert.True(t, c.IsHangup(participant("p", map[string]string{AttrCallStatus: "hangup"})))
	assert.False(t, c.IsHangup(participant("p", map[string]string{AttrCallStatus: "active"})))
	assert.False(t, c.IsHangup(participant("p", nil)))
}

func TestDescribe(t *testing.T) {
	c := New(DefaultKeys())

	info := c.Describe(participant("caller-1", map[string]string{
		AttrOriginNumber:      "sip:+15551234567@pstn.example.com",
		AttrDestinationNumber: "+15557654321",
		AttrCallStatus:        "active",
	}))
	assert.Equal(t, "caller-1", info.Identity)
	assert.Equal(t, "+15551234567", info.Origin)
	assert.Equal(t, "+15557654321", info.Destination)
	assert.Equal(t, "active", info.Status)
	assert.Len(t, info.Attributes, 3)

	info = c.Describe(participant("caller-2", map[string]string{AttrCallStatus: "active"}))
	assert.Equal(t, Unknown, info.Origin)
	assert.Equal(t, Unknown, info.Destination)
}

func TestNumberFromURI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+15551234567", "+15551234567"},
		{" +15551234567 ", "+15551234567"},
		{"tel:+15551234567", "+15551234567"},
		{"tel:+15551234567;phone-context=example.com", "+15551234567"},
		{"sip:+15551234567@pstn.example.com", "+15551234567"},
		{"sip:alice@example.com;transport=udp", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NumberFromURI(tt.in))
		})
	}
}

func TestNormalizeE164(t *testing.T) {
	assert.Equal(t, "+15105551234", NormalizeE164("15105551234"))
	assert.Equal(t, "+15105551234", NormalizeE164("+1 (510) 555-1234"))
	assert.Equal(t, "+15105551234", NormalizeE164("tel:+1-510-555-1234"))
	assert.Equal(t, "", NormalizeE164("anonymous"))
}
