package auth

import (
	"context"
	"fmt"
	"strings"
)

// ProbeResult is the tagged outcome of one identity probe: either a
// structurally valid identity was found or it was not. Probes never rely on
// truthiness of the raw response.
type ProbeResult struct {
	Identity SecondaryIdentity
	Found    bool
}

// FoundIdentity wraps a valid identity in a ProbeResult.
func FoundIdentity(identity SecondaryIdentity) ProbeResult {
	return ProbeResult{Identity: identity, Found: true}
}

// NoIdentity is the not-found result.
func NoIdentity() ProbeResult {
	return ProbeResult{}
}

// ProbeStrategy asks the secondary source "who am I" through one specific
// call shape. The exact API surface of the embedding platform is not
// guaranteed, so the Reconciler tries an ordered list of strategies and the
// first valid response wins (same shape as MultiTokenValidator in the token
// layer).
type ProbeStrategy interface {
	Name() string
	Probe(ctx context.Context, bridge FrameBridge) (ProbeResult, error)
}

// DefaultStrategies returns the probe order the hosted platform responds to:
// the modern user API under both of its method names, then the legacy
// free-form command channel.
func DefaultStrategies(prefix string) []ProbeStrategy {
	return []ProbeStrategy{
		&apiProbe{api: "user", method: "getCurrentUser", prefix: prefix},
		&apiProbe{api: "user", method: "getUser", prefix: prefix},
		&commandProbe{command: "universe.user.current", prefix: prefix},
	}
}

type apiProbe struct {
	api    string
	method string
	prefix string
}

func (p *apiProbe) Name() string {
	return fmt.Sprintf("api:%s.%s", p.api, p.method)
}

func (p *apiProbe) Probe(ctx context.Context, bridge FrameBridge) (ProbeResult, error) {
	handle, err := bridge.API(p.api)
	if err != nil {
		return NoIdentity(), err
	}
	raw, err := handle.Run(ctx, p.method)
	if err != nil {
		return NoIdentity(), err
	}
	return decodeIdentity(raw, p.prefix), nil
}

type commandProbe struct {
	command string
	prefix  string
}

func (p *commandProbe) Name() string {
	return "command:" + p.command
}

func (p *commandProbe) Probe(ctx context.Context, bridge FrameBridge) (ProbeResult, error) {
	raw, err := bridge.ExecuteCommand(ctx, p.command)
	if err != nil {
		return NoIdentity(), err
	}
	return decodeIdentity(raw, p.prefix), nil
}

// decodeIdentity extracts a SecondaryIdentity from whatever shape the
// platform answered with. Known shapes: a flat user object, the same object
// under a "user" key, and the legacy key spellings. Anything without a
// correctly prefixed id is NotFound.
func decodeIdentity(raw any, prefix string) ProbeResult {
	obj, ok := raw.(map[string]any)
	if !ok {
		return NoIdentity()
	}
	if nested, ok := obj["user"].(map[string]any); ok {
		obj = nested
	}

	identity := SecondaryIdentity{
		UserID:      firstString(obj, "id", "userId", "userID"),
		DisplayName: firstString(obj, "displayName", "name"),
		AvatarURL:   firstString(obj, "avatarUrl", "avatar"),
		Roles:       stringSlice(obj["roles"]),
	}

	if !validSecondaryID(identity.UserID, prefix) {
		return NoIdentity()
	}
	return FoundIdentity(identity)
}

func validSecondaryID(id, prefix string) bool {
	if id == "" {
		return false
	}
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(id, prefix) && len(id) > len(prefix)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
