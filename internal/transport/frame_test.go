package transport

import (
	"errors"
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestEncodeGolden(t *testing.T) {
	g := goldie.New(t)

	body := []byte(`{"chatId":42,"userId":7,"isTyping":true}`)
	send := NewFrame(CmdSend, body,
		"destination", "/app/chat.typing",
		"content-type", "application/json",
		"content-length", strconv.Itoa(len(body)),
	)
	g.Assert(t, "send_typing", send.Encode())

	sub := NewFrame(CmdSubscribe, nil, "id", "sub-3", "destination", "/topic/chat/42", "ack", "auto")
	g.Assert(t, "subscribe_chat", sub.Encode())
}

func TestDecodeMessage(t *testing.T) {
	raw := "MESSAGE\r\nsubscription:sub-1\r\ndestination:/topic/chat/42\r\nmessage-id:9\r\n\r\n{\"type\":\"TYPING\"}\x00"
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if f.Command != CmdMessage {
		t.Errorf("command = %q, want MESSAGE", f.Command)
	}
	if got := f.Get("subscription"); got != "sub-1" {
		t.Errorf("subscription = %q, want sub-1", got)
	}
	if string(f.Body) != `{"type":"TYPING"}` {
		t.Errorf("body = %q", f.Body)
	}
}

func TestDecodeContentLength(t *testing.T) {
	raw := "MESSAGE\ncontent-length:3\n\na\x00b\x00"
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Body) != "a\x00b" {
		t.Errorf("body = %q, want a\\x00b", f.Body)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	for _, raw := range []string{"\n", "\r\n", "\n\n"} {
		f, err := Decode([]byte(raw))
		if err != nil || f != nil {
			t.Errorf("Decode(%q) = %v, %v; want nil, nil", raw, f, err)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := map[string]string{
		"no command line":    "MESSAGE",
		"unterminated":       "MESSAGE\ndestination:/x\n",
		"header without sep": "MESSAGE\nbroken\n\n\x00",
		"missing nul":        "MESSAGE\n\nbody",
		"bad content-length": "MESSAGE\ncontent-length:99\n\nab\x00",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("err = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestHeaderEscaping(t *testing.T) {
	f := NewFrame(CmdSend, nil, "note", "a:b\nc\\d")
	decoded, err := Decode(f.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got := decoded.Get("note"); got != "a:b\nc\\d" {
		t.Errorf("note = %q", got)
	}
}

func TestConnectFrameNotEscaped(t *testing.T) {
	f := NewFrame(CmdConnect, nil, "host", "a:b")
	want := "CONNECT\nhost:a:b\n\n\x00"
	if got := string(f.Encode()); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestGetFirstOccurrence(t *testing.T) {
	f := NewFrame(CmdMessage, nil, "k", "first", "k", "second")
	if got := f.Get("k"); got != "first" {
		t.Errorf("Get(k) = %q, want first", got)
	}
}
