package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

// ErrBadPayload is returned when an event payload is missing a field or has
// the wrong type.
var ErrBadPayload = errors.New("bad payload")

// payload is the first argument of a client event, decoded from JSON.
type payload map[string]interface{}

// parsePayload extracts the event payload. A bare scalar argument, as sent
// with "volume", is exposed under "value".
func parsePayload(args []any) payload {
	if len(args) == 0 || args[0] == nil {
		return payload{}
	}
	if m, ok := args[0].(map[string]interface{}); ok {
		return m
	}
	return payload{"value": args[0]}
}

func (p payload) str(key string) (string, error) {
	v, ok := p[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrBadPayload, key)
	}
	return v, nil
}

// integer accepts JSON numbers with no fractional part.
func (p payload) integer(key string) (int, error) {
	switch v := p[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrBadPayload, key)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer", ErrBadPayload, key)
}

func (p payload) number(key string) (float64, error) {
	switch v := p[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: %s must be a number", ErrBadPayload, key)
}

func (p payload) boolean(key string) (bool, error) {
	v, ok := p[key].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrBadPayload, key)
	}
	return v, nil
}

// optBool returns def when key is absent.
func (p payload) optBool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// contextID accepts either the string form ("queue", "playlist:<id>") or an
// object {"kind": ..., "playlistId": ...}.
func (p payload) contextID(key string) (player.ContextID, error) {
	switch v := p[key].(type) {
	case string:
		c, err := player.ParseContextID(v)
		if err != nil {
			return player.ContextID{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		return c, nil
	case map[string]interface{}:
		var c player.ContextID
		if err := remarshal(v, &c); err != nil {
			return player.ContextID{}, err
		}
		if c.Kind == player.KindPlaylist && strings.TrimSpace(c.PlaylistID) == "" {
			return player.ContextID{}, fmt.Errorf("%w: playlist context needs playlistId", ErrBadPayload)
		}
		return c, nil
	}
	return player.ContextID{}, fmt.Errorf("%w: %s must be a context", ErrBadPayload, key)
}

// track decodes a provider track descriptor into a Ref.
func (p payload) track(key string) (track.Ref, error) {
	v, ok := p[key].(map[string]interface{})
	if !ok {
		return track.Ref{}, fmt.Errorf("%w: %s must be a track", ErrBadPayload, key)
	}
	var d track.Descriptor
	if err := remarshal(v, &d); err != nil {
		return track.Ref{}, err
	}
	ref, ok := track.Normalize(d)
	if !ok {
		return track.Ref{}, fmt.Errorf("%w: %s has no identifier", ErrBadPayload, key)
	}
	return ref, nil
}

// optTrack returns the zero Ref when key is absent.
func (p payload) optTrack(key string) (track.Ref, error) {
	if _, ok := p[key]; !ok {
		return track.Ref{}, nil
	}
	return p.track(key)
}

// tracks decodes a list of descriptors, dropping those without an identifier.
// A missing key yields an empty list.
func (p payload) tracks(key string) ([]track.Ref, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list of tracks", ErrBadPayload, key)
	}
	var ds []track.Descriptor
	if err := remarshal(list, &ds); err != nil {
		return nil, err
	}
	return track.NormalizeAll(ds), nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	return nil
}

// move reads a reorder request {"from": n, "to": m}.
func (p payload) move() (from, to int, err error) {
	if from, err = p.integer("from"); err != nil {
		return 0, 0, err
	}
	if to, err = p.integer("to"); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}
