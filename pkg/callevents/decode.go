package callevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

const fieldTime = "_time"

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// Decode classifies a normalized message payload. Unknown discriminators
// yield ErrUnknownEvent so callers can log and drop them. Fields that do not
// parse are left zero; only an outbound call without a usable id is
// rejected with ErrMalformed.
func Decode(data map[string]any) (Event, error) {
	name, _ := data[FieldEvent].(string)
	ts := parseServerTime(data[fieldTime])

	switch Kind(name) {
	case KindStateChanged:
		return decodeStateChanged(data, ts), nil
	case KindOutboundCallState:
		return decodeOutboundCall(data, ts)
	case KindRequestLead:
		return LeadRequested{ServerTime: ts}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

func decodeStateChanged(data map[string]any, ts ServerTime) Event {
	to, _ := data["to"].(string)
	reason, _ := data["reason"].(string)
	return SessionStateChanged{
		SessionID:  lenientID(data, "call_session_id"),
		State:      SessionState(to),
		Reason:     reason,
		ServerTime: ts,
	}
}

func decodeOutboundCall(data map[string]any, ts ServerTime) (Event, error) {
	id, err := ParseID(data["id"])
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: outbound call without id", ErrMalformed)
	}
	state, _ := data["state"].(string)
	return OutboundCallChanged{
		CallID:     id,
		State:      OutboundCallState(state),
		LeadID:     lenientID(data, "lead_id"),
		MasterID:   lenientID(data, "master_id"),
		StartedAt:  lenientDate(data, "started_at"),
		EndedAt:    lenientDate(data, "ended_at"),
		ServerTime: ts,
	}, nil
}

func lenientID(data map[string]any, field string) string {
	id, err := ParseID(data[field])
	if err != nil {
		slog.Default().Debug("ignoring call event field", "field", field, "err", err)
		return ""
	}
	return id
}

func lenientDate(data map[string]any, field string) *time.Time {
	t, err := ParseDate(data[field])
	if err != nil {
		slog.Default().Debug("ignoring call event field", "field", field, "err", err)
		return nil
	}
	return t
}

// ParseDate reads a date string in RFC 3339 or a few common server layouts,
// or epoch milliseconds. Absent, null and empty values return nil.
func ParseDate(v any) (*time.Time, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return nil, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				t = t.UTC()
				return &t, nil
			}
		}
		return nil, fmt.Errorf("unrecognized date %q", x)
	}
	ms, ok := number(v)
	if !ok {
		return nil, fmt.Errorf("unsupported date value %T", v)
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t, nil
}

// parseServerTime returns an invalid ServerTime for anything that is not a
// finite number or a numeric string.
func parseServerTime(v any) ServerTime {
	var f float64
	switch x := v.(type) {
	case nil:
		return ServerTime{}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			slog.Default().Debug("ignoring call event field", "field", fieldTime, "err", err)
			return ServerTime{}
		}
		f = parsed
	default:
		n, ok := number(v)
		if !ok {
			slog.Default().Debug("ignoring call event field", "field", fieldTime, "type", fmt.Sprintf("%T", v))
			return ServerTime{}
		}
		f = n
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ServerTime{}
	}
	return At(f)
}

// ParseID accepts ids sent as strings or JSON numbers and renders them as
// strings. nil yields "".
func ParseID(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	}
	f, ok := number(v)
	if !ok {
		return "", fmt.Errorf("unsupported id value %T", v)
	}
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// Payload renders ev in its wire form, the inverse of Decode. The server
// time is left to the transport extension and is not included.
func Payload(ev Event) map[string]any {
	switch e := ev.(type) {
	case SessionStateChanged:
		return map[string]any{
			FieldEvent:        string(KindStateChanged),
			"call_session_id": e.SessionID,
			"to":              string(e.State),
			"reason":          e.Reason,
		}
	case OutboundCallChanged:
		out := map[string]any{
			FieldEvent: string(KindOutboundCallState),
			"id":       e.CallID,
			"state":    string(e.State),
			"lead_id":  e.LeadID,
		}
		if e.MasterID != "" {
			out["master_id"] = e.MasterID
		}
		if e.StartedAt != nil {
			out["started_at"] = e.StartedAt.UTC().Format(time.RFC3339)
		}
		if e.EndedAt != nil {
			out["ended_at"] = e.EndedAt.UTC().Format(time.RFC3339)
		}
		return out
	case LeadRequested:
		return map[string]any{FieldEvent: string(KindRequestLead)}
	}
	return nil
}
