package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", WithToken(func() string { return "tok" }))
}

func TestUserChatsSendsBearerToken(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/user/7" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, `[{"id":3,"type":"GROUP","name":"team","lastMessageTime":"2024-03-01T10:00:00","members":[{"userId":7,"role":"OWNER"}]}]`)
	})

	chats, err := c.UserChats(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || !chats[0].IsGroup() || chats[0].Members[0].Role != "OWNER" {
		t.Fatalf("chats = %+v", chats)
	}
	if chats[0].LastMessageTime.IsZero() {
		t.Error("lastMessageTime not decoded")
	}
}

func TestCreateGroupChatBody(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("userId") != "1" {
			t.Errorf("%s %s", r.Method, r.URL)
		}
		var body struct {
			Name      string  `json:"name"`
			MemberIDs []int64 `json:"memberIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if body.Name != "crew" || len(body.MemberIDs) != 2 {
			t.Errorf("body = %+v", body)
		}
		_, _ = io.WriteString(w, `{"id":12,"type":"GROUP","name":"crew"}`)
	})

	chat, err := c.CreateGroupChat(context.Background(), 1, "crew", []int64{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if chat.ID != 12 {
		t.Errorf("id = %d", chat.ID)
	}
}

func TestChatMessagesAcceptsArrayAndPage(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[{"id":1,"chatId":4,"senderId":2,"content":"a"},{"id":2,"chatId":4,"senderId":2,"content":"b"}]`},
		{"page", `{"content":[{"id":1,"chatId":4,"senderId":2,"content":"a"},{"id":2,"chatId":4,"senderId":2,"content":"b"}],"totalPages":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("page") != "0" || q.Get("size") != "50" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				_, _ = io.WriteString(w, tt.body)
			})
			msgs, err := c.ChatMessages(context.Background(), 4, 2, 0, 50)
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 2 || msgs[1].Content != "b" {
				t.Fatalf("msgs = %+v", msgs)
			}
		})
	}
}

func TestAddContactResult(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		direct  bool
		wantErr bool
	}{
		{"direct", `{"type":"DIRECT","contact":{"id":5,"nickname":"eve"}}`, true, false},
		{"request", `{"type":"REQUEST","request":{"id":9,"fromUserId":1,"toUserId":5}}`, false, false},
		{"malformed", `{"type":"DIRECT"}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/contacts" || r.Method != http.MethodPost {
					t.Errorf("%s %s", r.Method, r.URL.Path)
				}
				_, _ = io.WriteString(w, tt.body)
			})
			res, err := c.AddContact(context.Background(), 1, 5, "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if res.Direct() != tt.direct {
				t.Errorf("Direct() = %v, want %v", res.Direct(), tt.direct)
			}
		})
	}
}

func TestErrorCarriesServerMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"server message", `{"message":"already contacts"}`, "already contacts"},
		{"fallback", `oops`, "remove contact failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, tt.body)
			})
			err := c.RemoveContact(context.Background(), 1, 2)
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if apiErr.Status != http.StatusBadRequest || apiErr.Message != tt.want {
				t.Errorf("err = %+v", apiErr)
			}
		})
	}
}

func TestEmptyBodyIsFine(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/messages/chat/4/read" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
	})
	if err := c.MarkChatRead(context.Background(), 4, 2); err != nil {
		t.Fatal(err)
	}
}
