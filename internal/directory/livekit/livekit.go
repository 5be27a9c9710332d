// Package livekit implements the room directory on top of the LiveKit
// RoomService and SIP twirp APIs.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
	"google.golang.org/protobuf/encoding/protojson"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/directory"
	"firestige.xyz/callmon/internal/log"
)

// TypeName is the directory.type value selecting this backend.
const TypeName = "livekit"

// DefaultRequestTimeout bounds a single API call when the caller's
// context has no earlier deadline.
const DefaultRequestTimeout = 5 * time.Second

// Credential fallbacks read when the options leave them empty.
const (
	EnvURL       = "LIVEKIT_URL"
	EnvAPIKey    = "LIVEKIT_API_KEY"
	EnvAPISecret = "LIVEKIT_API_SECRET"
	EnvTrunkID   = "LIVEKIT_SIP_TRUNK_ID"
)

func init() {
	directory.Register(TypeName, func(options map[string]any) (core.Backend, error) {
		var opts Options
		if err := directory.DecodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return New(opts)
	})
}

// Options configures the LiveKit backend.
type Options struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	SIPTrunkID     string        `mapstructure:"sip_trunk_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Attribute keys set on provisioned signaling participants.
	CallStatusKey        string `mapstructure:"call_status_key"`
	OriginNumberKey      string `mapstructure:"origin_number_key"`
	DestinationNumberKey string `mapstructure:"destination_number_key"`
}

// applyEnv fills empty credentials from the environment.
func (o *Options) applyEnv() {
	fill := func(v *string, env string) {
		if *v == "" {
			*v = os.Getenv(env)
		}
	}
	fill(&o.URL, EnvURL)
	fill(&o.APIKey, EnvAPIKey)
	fill(&o.APISecret, EnvAPISecret)
	fill(&o.SIPTrunkID, EnvTrunkID)
}

// Directory talks to a LiveKit server.
type Directory struct {
	rooms   *lksdk.RoomServiceClient
	sip     *lksdk.SIPClient
	trunkID string
	timeout time.Duration
	keys    classifier.Keys
	log     log.Logger
}

// New validates opts and creates the API clients. No request is made.
func New(opts Options) (*Directory, error) {
	opts.applyEnv()
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: livekit url is required (option url or %s)", core.ErrConfigInvalid, EnvURL)
	}
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, fmt.Errorf("%w: livekit api_key and api_secret are required", core.ErrConfigInvalid)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	keys := classifier.DefaultKeys()
	if opts.CallStatusKey != "" {
		keys.CallStatus = opts.CallStatusKey
	}
	if opts.OriginNumberKey != "" {
		keys.OriginNumber = opts.OriginNumberKey
	}
	if opts.DestinationNumberKey != "" {
		keys.DestinationNumber = opts.DestinationNumberKey
	}

	return &Directory{
		rooms:   lksdk.NewRoomServiceClient(opts.URL, opts.APIKey, opts.APISecret),
		sip:     lksdk.NewSIPClient(opts.URL, opts.APIKey, opts.APISecret),
		trunkID: opts.SIPTrunkID,
		timeout: opts.RequestTimeout,
		keys:    keys,
		log:     log.GetLogger().WithFields(map[string]interface{}{"component": "directory", "backend": TypeName}),
	}, nil
}

// ListParticipants returns the room roster. A room the server does not
// know has an empty roster.
func (d *Directory) ListParticipants(ctx context.Context, sessionName string) ([]core.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: sessionName})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list participants of %s: %v", core.ErrDirectoryUnavailable, sessionName, err)
	}

	roster := make([]core.Participant, 0, len(resp.GetParticipants()))
	for _, info := range resp.GetParticipants() {
		if d.log.IsTraceEnabled() {
			d.log.WithField("session", sessionName).Tracef("participant: %s", protojson.Format(info))
		}
		roster = append(roster, fromInfo(info))
	}
	return roster, nil
}

// RemoveParticipant disconnects identity from the room.
func (d *Directory) RemoveParticipant(ctx context.Context, sessionName, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     sessionName,
		Identity: identity,
	})
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %s in %s: %v", core.ErrParticipantNotFound, identity, sessionName, err)
	}
	return fmt.Errorf("%w: remove %s from %s: %v", core.ErrDirectoryUnavailable, identity, sessionName, err)
}

// AttachSignalingParticipant places a SIP call through the configured
// trunk into sessionName. The server creates the room on demand.
func (d *Directory) AttachSignalingParticipant(ctx context.Context, sessionName, callerNumber, calleeNumber string) (core.Participant, error) {
	if d.trunkID == "" {
		return core.Participant{}, fmt.Errorf("%w: livekit sip_trunk_id is required to attach a call (option sip_trunk_id or %s)",
			core.ErrConfigInvalid, EnvTrunkID)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	attrs := map[string]string{
		d.keys.OriginNumber: callerNumber,
		d.keys.CallStatus:   "active",
	}
	if calleeNumber != "" {
		attrs[d.keys.DestinationNumber] = calleeNumber
	}
	req := &livekit.CreateSIPParticipantRequest{
		SipTrunkId:            d.trunkID,
		SipCallTo:             calleeNumber,
		SipNumber:             callerNumber,
		RoomName:              sessionName,
		ParticipantIdentity:   "sip_" + strings.TrimPrefix(callerNumber, "+"),
		ParticipantName:       "Inbound call " + callerNumber,
		ParticipantMetadata:   "inbound call from " + callerNumber,
		ParticipantAttributes: attrs,
	}

	info, err := d.sip.CreateSIPParticipant(ctx, req)
	if err != nil {
		return core.Participant{}, fmt.Errorf("%w: create sip participant in %s: %v", core.ErrDirectoryUnavailable, sessionName, err)
	}
	d.log.WithFields(map[string]interface{}{
		"session":     info.GetRoomName(),
		"identity":    info.GetParticipantIdentity(),
		"sip_call_id": info.GetSipCallId(),
	}).Info("signaling participant attached")

	return core.Participant{
		Identity:   info.GetParticipantIdentity(),
		Name:       req.ParticipantName,
		Attributes: attrs,
	}, nil
}

// Close is a no-op; the twirp clients hold no connections of their own.
func (d *Directory) Close() error { return nil }

func fromInfo(info *livekit.ParticipantInfo) core.Participant {
	p := core.Participant{Identity: info.GetIdentity(), Name: info.GetName()}
	if attrs := info.GetAttributes(); len(attrs) > 0 {
		p.Attributes = maps.Clone(attrs)
	}
	return p
}

func isNotFound(err error) bool {
	var terr twirp.Error
	return errors.As(err, &terr) && terr.Code() == twirp.NotFound
}

var _ core.Backend = (*Directory)(nil)
