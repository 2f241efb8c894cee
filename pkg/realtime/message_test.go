package realtime

import "testing"

func TestChannelName(t *testing.T) {
	if got := ChannelName("17"); got != "/users/17/call" {
		t.Fatalf("unexpected channel %q", got)
	}
}

func TestEnrichOutbound_AttachesTokenToSubscribeOnly(t *testing.T) {
	in := Message{Channel: MetaSubscribe, Subscription: "/users/1/call", Ext: map[string]any{"client": "sdk"}}
	out := EnrichOutbound(in, "tok")

	if out.Ext[ExtSessionID] != "tok" {
		t.Fatalf("expected session_id ext, got %+v", out.Ext)
	}
	if out.Ext["client"] != "sdk" {
		t.Fatalf("expected existing ext preserved")
	}
	if _, ok := in.Ext[ExtSessionID]; ok {
		t.Fatalf("input message must not be mutated")
	}

	other := EnrichOutbound(Message{Channel: MetaUnsubscribe, Subscription: "/users/1/call"}, "tok")
	if other.Ext != nil {
		t.Fatalf("expected unsubscribe untouched, got %+v", other.Ext)
	}
}

func TestNormalizeInbound_CopiesExtTimeIntoData(t *testing.T) {
	in := Message{
		Channel: "/users/1/call",
		Data:    map[string]any{"event": "state_changed"},
		Ext:     map[string]any{ExtTime: float64(42)},
	}
	out := NormalizeInbound(in)

	if out.Data[DataTime] != float64(42) {
		t.Fatalf("expected data._time=42, got %+v", out.Data)
	}
	if _, ok := in.Data[DataTime]; ok {
		t.Fatalf("input data must not be mutated")
	}
}

func TestNormalizeInbound_WithoutExtOrDataIsUnchanged(t *testing.T) {
	noExt := NormalizeInbound(Message{Data: map[string]any{"event": "x"}})
	if _, ok := noExt.Data[DataTime]; ok {
		t.Fatalf("expected no _time without ext")
	}
	noData := NormalizeInbound(Message{Ext: map[string]any{ExtTime: 1}})
	if noData.Data != nil {
		t.Fatalf("expected nil data to stay nil")
	}
}

func TestMessage_IsMeta(t *testing.T) {
	if !(Message{Channel: MetaUnsubscribe}).IsMeta() {
		t.Fatalf("expected meta")
	}
	if (Message{Channel: "/users/1/call"}).IsMeta() {
		t.Fatalf("expected data channel")
	}
}
