// Package realtime owns the channel subscription to the pub/sub bus that
// pushes call-session notifications.
package realtime

import (
	"fmt"
	"maps"
	"strings"
)

// Meta channels used for subscription control.
const (
	MetaSubscribe   = "/meta/subscribe"
	MetaUnsubscribe = "/meta/unsubscribe"
	MetaConnect     = "/meta/connect"
	MetaDisconnect  = "/meta/disconnect"
)

// Extension keys carried out-of-band in Message.Ext.
const (
	ExtTime      = "_time"
	ExtSessionID = "session_id"
)

// DataTime is where the server timestamp lives once a message is normalized.
const DataTime = "_time"

// Message is one frame on the bus: either a data message on a user channel
// or a control message on a /meta channel.
type Message struct {
	Channel string         `json:"channel"`
	Data    map[string]any `json:"data,omitempty"`

	// Error is set by the server when delivery or authorization failed.
	Error string `json:"error,omitempty"`
	// Successful is set on /meta acknowledgements.
	Successful bool `json:"successful,omitempty"`
	// Subscription names the target channel of a /meta subscribe or
	// unsubscribe frame.
	Subscription string `json:"subscription,omitempty"`

	Ext map[string]any `json:"ext,omitempty"`
}

// IsMeta reports whether m is a control frame.
func (m Message) IsMeta() bool {
	return strings.HasPrefix(m.Channel, "/meta/")
}

// ChannelName is the per-user call channel.
func ChannelName(userID string) string {
	return fmt.Sprintf("/users/%s/call", userID)
}

// EnrichOutbound attaches the auth token to subscribe requests so the
// backend can authorize the channel. Other frames pass through unchanged.
// m is not mutated.
func EnrichOutbound(m Message, authToken string) Message {
	if m.Channel != MetaSubscribe {
		return m
	}
	ext := make(map[string]any, len(m.Ext)+1)
	maps.Copy(ext, m.Ext)
	ext[ExtSessionID] = authToken
	m.Ext = ext
	return m
}

// NormalizeInbound copies the ext._time timestamp into data._time so decoders
// find the ordering value in one place. m is not mutated.
func NormalizeInbound(m Message) Message {
	if m.Data == nil || m.Ext == nil {
		return m
	}
	t, ok := m.Ext[ExtTime]
	if !ok || t == nil {
		return m
	}
	data := make(map[string]any, len(m.Data)+1)
	maps.Copy(data, m.Data)
	data[DataTime] = t
	m.Data = data
	return m
}
