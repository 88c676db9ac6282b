package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/api"
	"github.com/AngkinV/Nexus-Chat/internal/cache"
	"github.com/AngkinV/Nexus-Chat/internal/conn"
	"github.com/AngkinV/Nexus-Chat/internal/store"
	intsync "github.com/AngkinV/Nexus-Chat/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlService is the gRPC service name of the daemon control API. Every
// method takes and returns a google.protobuf.Struct.
const ControlService = "nexus.v1.Control"

// Control methods.
const (
	MethodStatus        = "Status"
	MethodSignIn        = "SignIn"
	MethodLogout        = "Logout"
	MethodReconnect     = "Reconnect"
	MethodReload        = "Reload"
	MethodConversations = "ListConversations"
	MethodMessages      = "ListMessages"
	MethodLoadHistory   = "LoadHistory"
	MethodSend          = "SendMessage"
	MethodRetry         = "RetryMessage"
	MethodSetActive     = "SetActive"
	MethodSetPinned     = "SetPinned"
	MethodSetMuted      = "SetMuted"
	MethodContacts      = "ListContacts"
	MethodAddContact    = "AddContact"
	MethodAccept        = "AcceptRequest"
	MethodReject        = "RejectRequest"
)

// Control serves the daemon control API over the engine.
type Control struct {
	profile string
	engine  *intsync.Engine
	session *Session
	conn    *conn.Manager
	logger  *zap.Logger
	started time.Time
}

// NewControl creates the control service.
func NewControl(p Params, engine *intsync.Engine, session *Session, c *conn.Manager, logger *zap.Logger) *Control {
	return &Control{
		profile: p.Profile,
		engine:  engine,
		session: session,
		conn:    c,
		logger:  logger.Named("control"),
		started: time.Now(),
	}
}

type handler func(c *Control, ctx context.Context, req *structpb.Struct) (map[string]any, error)

// RegisterControl registers the control service on s.
func RegisterControl(s grpc.ServiceRegistrar, c *Control) {
	desc := grpc.ServiceDesc{
		ServiceName: ControlService,
		HandlerType: (*any)(nil),
		Metadata:    "nexus/v1/control",
	}
	for name, h := range map[string]handler{
		MethodStatus:        (*Control).status,
		MethodSignIn:        (*Control).signIn,
		MethodLogout:        (*Control).logout,
		MethodReconnect:     (*Control).reconnect,
		MethodReload:        (*Control).reload,
		MethodConversations: (*Control).conversations,
		MethodMessages:      (*Control).messages,
		MethodLoadHistory:   (*Control).loadHistory,
		MethodSend:          (*Control).send,
		MethodRetry:         (*Control).retry,
		MethodSetActive:     (*Control).setActive,
		MethodSetPinned:     (*Control).setPinned,
		MethodSetMuted:      (*Control).setMuted,
		MethodContacts:      (*Control).contacts,
		MethodAddContact:    (*Control).addContact,
		MethodAccept:        (*Control).accept,
		MethodReject:        (*Control).reject,
	} {
		desc.Methods = append(desc.Methods, unary(name, h))
	}
	s.RegisterService(&desc, c)
}

func unary(name string, h handler) grpc.MethodDesc {
	fullMethod := "/" + ControlService + "/" + name
	call := func(srv any, ctx context.Context, req any) (any, error) {
		c := srv.(*Control)
		out, err := h(c, ctx, req.(*structpb.Struct))
		if err != nil {
			c.logger.Debug("control call failed", zap.String("method", name), zap.Error(err))
			return nil, toStatus(err)
		}
		return structpb.NewStruct(out)
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req)
			})
		},
	}
}

func toStatus(err error) error {
	var apiErr *api.Error
	switch {
	case errors.Is(err, intsync.ErrNotStarted):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrSignedIn):
		return grpcstatus.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, intsync.ErrUnknownConversation), errors.Is(err, intsync.ErrUnknownMessage):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, intsync.ErrStale):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.Is(err, errBadArgument):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &apiErr):
		return grpcstatus.Error(codes.Unavailable, apiErr.Message)
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

var errBadArgument = errors.New("bad argument")

func (c *Control) status(_ context.Context, _ *structpb.Struct) (map[string]any, error) {
	self := c.engine.Self()
	out := map[string]any{
		"profile":       c.profile,
		"state":         string(c.conn.State()),
		"userId":        self.ID,
		"username":      self.Username,
		"conversations": len(c.engine.Conversations()),
		"pendingCount":  c.engine.PendingCount(),
		"onlineUsers":   len(c.engine.OnlineUsers()),
		"retryPending":  c.conn.ReconnectPending(),
		"attempts":      c.conn.Attempts(),
		"uptimeMs":      time.Since(c.started).Milliseconds(),
	}
	if a, ok := c.engine.Active(); ok {
		out["activeChatId"] = a.ID
	}
	return out, nil
}

func (c *Control) signIn(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	id, err := intArg(req, "userId")
	if err != nil {
		return nil, err
	}
	p := store.Profile{
		ID:        id,
		Username:  stringArg(req, "username"),
		Nickname:  stringArg(req, "nickname"),
		AvatarURL: stringArg(req, "avatarUrl"),
	}
	// The sign-in outlives the call.
	if err := c.session.SignIn(context.WithoutCancel(ctx), p, stringArg(req, "token")); err != nil {
		return nil, err
	}
	return map[string]any{"userId": id}, nil
}

func (c *Control) logout(ctx context.Context, _ *structpb.Struct) (map[string]any, error) {
	if err := c.session.SignOut(ctx); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (c *Control) reconnect(ctx context.Context, _ *structpb.Struct) (map[string]any, error) {
	if err := c.conn.Reconnect(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	return map[string]any{"state": string(c.conn.State())}, nil
}

func (c *Control) reload(ctx context.Context, _ *structpb.Struct) (map[string]any, error) {
	if err := c.session.Reload(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"conversations": len(c.engine.Conversations())}, nil
}

func (c *Control) conversations(_ context.Context, _ *structpb.Struct) (map[string]any, error) {
	convs := c.engine.Conversations()
	list := make([]any, 0, len(convs))
	for _, cv := range convs {
		list = append(list, conversationValue(cv))
	}
	return map[string]any{"conversations": list}, nil
}

func (c *Control) messages(_ context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	if _, ok := c.engine.Conversation(chatID); !ok {
		return nil, intsync.ErrUnknownConversation
	}
	msgs := c.engine.Messages(chatID)
	list := make([]any, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, messageValue(m))
	}
	typing := make([]any, 0)
	for _, uid := range c.engine.TypingUsers(chatID) {
		typing = append(typing, uid)
	}
	return map[string]any{"messages": list, "typing": typing}, nil
}

func (c *Control) loadHistory(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	n, err := c.engine.LoadHistory(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"added": n}, nil
}

func (c *Control) send(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	kind := cache.ParseMessageKind(stringArg(req, "kind"))
	m, err := c.engine.SendMessage(ctx, chatID, stringArg(req, "content"), kind, stringArg(req, "fileUrl"))
	if err != nil {
		return nil, err
	}
	return messageValue(m), nil
}

func (c *Control) retry(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	id := stringArg(req, "messageId")
	if err := c.engine.RetryMessage(ctx, chatID, id); err != nil {
		return nil, err
	}
	return map[string]any{"messageId": id}, nil
}

func (c *Control) setActive(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	active, err := c.engine.SetActive(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"activeChatId": active}, nil
}

func (c *Control) setPinned(_ context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	on := boolArg(req, "on")
	if err := c.engine.SetPinned(chatID, on); err != nil {
		return nil, err
	}
	return map[string]any{"chatId": chatID, "pinned": on}, nil
}

func (c *Control) setMuted(_ context.Context, req *structpb.Struct) (map[string]any, error) {
	chatID, err := intArg(req, "chatId")
	if err != nil {
		return nil, err
	}
	on := boolArg(req, "on")
	if err := c.engine.SetMuted(chatID, on); err != nil {
		return nil, err
	}
	return map[string]any{"chatId": chatID, "muted": on}, nil
}

func (c *Control) contacts(_ context.Context, _ *structpb.Struct) (map[string]any, error) {
	contacts := make([]any, 0)
	for _, ct := range c.engine.Contacts() {
		contacts = append(contacts, map[string]any{
			"userId":   ct.UserID,
			"username": ct.Username,
			"nickname": ct.Nickname,
			"isOnline": ct.IsOnline,
		})
	}
	inbound := make([]any, 0)
	for _, r := range c.engine.InboundRequests() {
		inbound = append(inbound, requestValue(r))
	}
	outbound := make([]any, 0)
	for _, r := range c.engine.OutboundRequests() {
		outbound = append(outbound, requestValue(r))
	}
	return map[string]any{
		"contacts":     contacts,
		"inbound":      inbound,
		"outbound":     outbound,
		"pendingCount": c.engine.PendingCount(),
	}, nil
}

func (c *Control) addContact(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	id, err := intArg(req, "userId")
	if err != nil {
		return nil, err
	}
	res, err := c.engine.AddContact(ctx, id, stringArg(req, "message"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": string(res.Kind)}, nil
}

func (c *Control) accept(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	id, err := intArg(req, "requestId")
	if err != nil {
		return nil, err
	}
	if err := c.engine.AcceptRequest(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"requestId": id}, nil
}

func (c *Control) reject(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	id, err := intArg(req, "requestId")
	if err != nil {
		return nil, err
	}
	if err := c.engine.RejectRequest(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"requestId": id}, nil
}

func conversationValue(cv cache.Conversation) map[string]any {
	out := map[string]any{
		"id":          cv.ID,
		"kind":        string(cv.Kind),
		"name":        cv.DisplayName,
		"lastMessage": cv.LastMessageSummary,
		"unread":      cv.UnreadCount,
		"online":      cv.Online,
		"pinned":      cv.Pinned,
		"muted":       cv.Muted,
		"members":     len(cv.MemberIDs),
	}
	if !cv.LastMessageAt.IsZero() {
		out["lastMessageAt"] = cv.LastMessageAt.Format(time.RFC3339)
	}
	return out
}

func messageValue(m cache.Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"chatId":    m.ConversationID,
		"senderId":  m.SenderID,
		"sender":    m.SenderName,
		"content":   m.Summary(),
		"state":     string(m.State),
		"self":      m.IsSelf,
		"createdAt": m.CreatedAt.Format(time.RFC3339),
	}
}

func requestValue(r cache.Request) map[string]any {
	return map[string]any{
		"id":       r.ID,
		"from":     r.FromUserID,
		"to":       r.ToUserID,
		"nickname": r.FromNickname,
		"message":  r.Message,
		"status":   string(r.Status),
	}
}

func intArg(req *structpb.Struct, key string) (int64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s required", errBadArgument, key)
	}
	n := int64(v.GetNumberValue())
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", errBadArgument, key)
	}
	return n, nil
}

func stringArg(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func boolArg(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}
