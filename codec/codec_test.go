package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/neboloop/realtime/transport"
)

func TestAudioAppendShape(t *testing.T) {
	data, err := JSON{}.AudioAppend("AAEC")
	if err != nil {
		t.Fatalf("AudioAppend: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != CommandInputAudioBufferAppend || got["audio"] != "AAEC" {
		t.Fatalf("unexpected command: %v", got)
	}
	if !strings.HasPrefix(got["event_id"], "evt_") {
		t.Fatalf("missing event id: %v", got)
	}
}

func TestEncodeAssignsFreshEventIDs(t *testing.T) {
	cmd := NewResponseCreate(&ResponseOptions{Modalities: []string{"text"}})
	ids := map[string]bool{}
	for range 2 {
		data, err := JSON{}.Encode(cmd)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		var got Header
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(got.EventID, "evt_") {
			t.Fatalf("missing event id: %s", data)
		}
		ids[got.EventID] = true
	}
	if len(ids) != 2 {
		t.Fatalf("resubmitted command reused its event id: %v", ids)
	}
	if cmd.EventID != "" {
		t.Fatalf("caller's command was modified: %q", cmd.EventID)
	}

	preset := NewCommit()
	preset.EventID = "mine"
	data, _ := JSON{}.Encode(preset)
	if !strings.Contains(string(data), `"event_id":"mine"`) {
		t.Fatalf("preset id overwritten: %s", data)
	}

	if _, err := (JSON{}).Encode(nil); err == nil {
		t.Fatal("expected error for nil command")
	}
}

func TestDecode(t *testing.T) {
	ev, err := JSON{}.Decode([]byte(`{"type":"session.created","event_id":"e1","session":{}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != EventSessionCreated || ev.EventID != "e1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Err() != nil {
		t.Fatal("non-error event reported an error")
	}

	for _, bad := range []string{`not json`, `{"event_id":"x"}`, `{"type":1}`} {
		if _, err := (JSON{}).Decode([]byte(bad)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Decode(%s) = %v, want ErrMalformedEvent", bad, err)
		}
	}
}

func TestEventHelpers(t *testing.T) {
	ev, err := JSON{}.Decode([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad_audio","message":"nope"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var se *ServerError
	if !errors.As(ev.Err(), &se) || se.Code != "bad_audio" || se.Message != "nope" {
		t.Fatalf("unexpected server error: %v", ev.Err())
	}

	pcm := []byte{1, 2, 3, 4}
	raw := `{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
	ev, err = JSON{}.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok, err := ev.AudioDelta()
	if !ok || err != nil || string(got) != string(pcm) {
		t.Fatalf("AudioDelta = %v %v %v", got, ok, err)
	}

	ev, _ = JSON{}.Decode([]byte(`{"type":"response.done"}`))
	if _, ok, _ := ev.AudioDelta(); ok {
		t.Fatal("AudioDelta reported ok for response.done")
	}
}

func TestMessageType(t *testing.T) {
	if (JSON{}).MessageType() != transport.TextMessage {
		t.Fatal("JSON codec must send text frames")
	}
}

func TestEventIDsSortInCreationOrder(t *testing.T) {
	prev := NewEventID()
	for range 1000 {
		next := NewEventID()
		if next <= prev {
			t.Fatalf("%s not after %s", next, prev)
		}
		prev = next
	}
}
