package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownKind marks an envelope whose type is not in the closed set.
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrInvalidPayload marks a payload missing a required field.
	ErrInvalidPayload = errors.New("invalid payload")
)

// DecodeError describes one envelope that could not be turned into an Event.
// The envelope is dropped; the inbound loop keeps running.
type DecodeError struct {
	Kind  Kind
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode envelope on %s: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("decode %s on %s: %v", e.Kind, e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode turns one inbound body into an Event. topicChatID is the
// conversation id implied by the topic it arrived on (0 when none) and fills
// in a missing chat or group id.
func Decode(topic string, body []byte, topicChatID int64) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Topic: topic, Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Topic: topic, Err: fmt.Errorf("%w: missing type", ErrInvalidPayload)}
	}

	fallback := topicChatID
	if env.ChatID != nil && *env.ChatID > 0 {
		fallback = *env.ChatID
	}

	evt, err := decodePayload(env.Type, env.Payload, fallback)
	if err != nil {
		return nil, &DecodeError{Kind: env.Type, Topic: topic, Err: err}
	}
	return evt, nil
}

func decodePayload(kind Kind, raw json.RawMessage, chatID int64) (Event, error) {
	switch kind {
	case KindChatMessage:
		var p ChatMessage
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.ChatID, chatID)
		return p, need(p.ID > 0 && p.ChatID > 0 && p.SenderID > 0, "id, chatId and senderId")
	case KindTyping:
		var p Typing
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.ChatID, chatID)
		return p, need(p.ChatID > 0 && p.UserID > 0, "chatId and userId")
	case KindError:
		var p Error
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.ChatID, chatID)
		return p, need(p.ChatID > 0, "chatId")
	case KindUserOnline:
		var p UserOnline
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.UserID > 0, "userId")
	case KindUserOffline:
		var p UserOffline
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.UserID > 0, "userId")
	case KindContactRequest:
		var p ContactRequest
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.ID > 0 && p.FromUserID > 0, "id and fromUserId")
	case KindContactRequestAccepted:
		var p ContactRequestAccepted
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.Contact.ID > 0, "contact.id")
	case KindContactRequestRejected:
		var p ContactRequestRejected
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.RequestID > 0 || p.UserID > 0, "requestId or userId")
	case KindContactAdded:
		var p ContactAdded
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.Contact.ID > 0, "contact.id")
	case KindContactRemoved:
		var p ContactRemoved
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, need(p.ContactID > 0, "contactId")
	case KindChatDisabled:
		var p ChatDisabled
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.ChatID, chatID)
		return p, need(p.ChatID > 0, "chatId")
	case KindChatCreated:
		var p ChatCreated
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		p.Type = strings.ToUpper(p.Type)
		if p.Type == "" {
			p.Type = "DIRECT"
		}
		return p, need(p.ChatID > 0 && (p.Type == "DIRECT" || p.Type == "GROUP"), "id and type")
	case KindGroupUpdated:
		var p GroupUpdated
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.GroupID, chatID)
		return p, need(p.GroupID > 0, "groupId")
	case KindGroupMemberJoined:
		var p GroupMemberJoined
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.GroupID, chatID)
		return p, need(p.GroupID > 0 && p.Member.UserID > 0, "groupId and member.userId")
	case KindGroupMemberLeft:
		var p GroupMemberLeft
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.GroupID, chatID)
		return p, need(p.GroupID > 0 && p.UserID > 0, "groupId and userId")
	case KindGroupDeleted:
		var p GroupDeleted
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.GroupID, chatID)
		return p, need(p.GroupID > 0, "groupId")
	case KindGroupAdminChanged:
		var p GroupAdminChanged
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.GroupID, chatID)
		return p, need(p.GroupID > 0 && p.UserID > 0, "groupId and userId")
	case KindGroupOwnershipTransferred:
		var p GroupOwnershipTransferred
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		orDefault(&p.GroupID, chatID)
		return p, need(p.GroupID > 0 && p.NewOwnerID > 0, "groupId and newOwnerId")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func orDefault(id *int64, fallback int64) {
	if *id == 0 {
		*id = fallback
	}
}

func need(ok bool, fields string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s required", ErrInvalidPayload, fields)
}
