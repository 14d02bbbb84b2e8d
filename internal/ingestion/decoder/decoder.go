package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Schema names the payload shape a report arrived in.
type Schema string

const (
	SchemaNested       Schema = "nested"
	SchemaTenantFlat   Schema = "tenant_flat"
	SchemaLegacyFlat   Schema = "legacy_flat"
	SchemaUnrecognized Schema = "unrecognized"
)

var ErrUnrecognized = errors.New("unrecognized payload schema")

// Envelope is the shape-independent view of a device report. Counts and
// Timestamp stay raw until the camera has been resolved.
type Envelope struct {
	Schema    Schema
	Serial    string
	MessageID string
	// ClaimedTenant is what the device says its tenant is. It is logged, never trusted.
	ClaimedTenant string
	Counts        json.RawMessage
	Timestamp     json.RawMessage
}

type object map[string]json.RawMessage

// Decode tries each known shape in priority order: nested (identity object),
// tenant_flat (data object), legacy_flat (counts object, or site_id with camera_id).
func Decode(raw []byte) (*Envelope, error) {
	var top object
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return &Envelope{Schema: SchemaUnrecognized}, ErrUnrecognized
	}

	env := &Envelope{
		MessageID: top.str("message_id"),
		Timestamp: top.timestamp(),
	}

	if identity, ok := top.obj("identity"); ok {
		env.Schema = SchemaNested
		env.Serial = identity.str("serial")
		if env.Serial == "" {
			env.Serial = top.str("serial")
		}
		env.Counts = top.counts()
		env.ClaimedTenant = identity.str("tenant_id")
		return env, nil
	}

	if _, ok := top.obj("data"); ok {
		env.Schema = SchemaTenantFlat
		env.Serial = top.str("serial")
		env.Counts = top.counts()
		env.ClaimedTenant = top.str("tenant_id")
		return env, nil
	}

	_, hasCounts := top.obj("counts")
	if hasCounts || (top.str("site_id") != "" && top.str("camera_id") != "") {
		env.Schema = SchemaLegacyFlat
		env.Serial = top.str("serial")
		env.Counts = top.raw("counts")
		return env, nil
	}

	env.Schema = SchemaUnrecognized
	return env, ErrUnrecognized
}

// counts prefers data.counts over a top-level counts, whatever the shape.
func (o object) counts() json.RawMessage {
	if data, ok := o.obj("data"); ok {
		if counts := data.raw("counts"); counts != nil {
			return counts
		}
	}
	return o.raw("counts")
}

// timestamp prefers environment.timestamp over a top-level timestamp.
func (o object) timestamp() json.RawMessage {
	if environment, ok := o.obj("environment"); ok {
		if ts := environment.raw("timestamp"); ts != nil {
			return ts
		}
	}
	return o.raw("timestamp")
}

func (o object) raw(key string) json.RawMessage {
	value, ok := o[key]
	if !ok || isNull(value) {
		return nil
	}
	return value
}

func (o object) obj(key string) (object, bool) {
	value := o.raw(key)
	if value == nil || !bytes.HasPrefix(bytes.TrimSpace(value), []byte("{")) {
		return nil, false
	}
	var out object
	if err := json.Unmarshal(value, &out); err != nil {
		return nil, false
	}
	return out, true
}

// str accepts JSON strings and bare numbers; serials are sometimes sent unquoted.
func (o object) str(key string) string {
	value := o.raw(key)
	if value == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err == nil {
		return n.String()
	}
	return ""
}

func isNull(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
