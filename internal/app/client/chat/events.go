package chat

import (
	"context"
	"fmt"
	"time"
)

// Именованные события мультиплексированного клиента.
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventMessageSent      = "message_sent"
	EventError            = "error"
	EventNewMessage       = "new_message"
	EventUserTyping       = "user_typing"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventEntityDeleted    = "entity_deleted"
	EventJoinInvitations  = "join_invitations"
	EventLeaveInvitations = "leave_invitations"
	EventInvitation       = "invitation_notification"
)

// Типы кадров сырого websocket-транспорта.
const (
	frameMessage     = "message"
	frameTyping      = "typing"
	frameUserJoined  = "user_joined"
	frameUserLeft    = "user_left"
	frameReadReceipt = "read_receipt"
)

// Sender — автор сообщения в том виде, в котором его отдает сервер.
type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Message — сообщение чата.
type Message struct {
	ID        int64     `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TypingEvent — индикатор набора текста.
type TypingEvent struct {
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// MembershipEvent — вход или выход участника комнаты.
type MembershipEvent struct {
	Username string `json:"username"`
	Joined   bool   `json:"-"`
}

// MessageFetcher — HTTP-доступ к сообщениям комнаты. Используется
// опросным фолбэком и отправкой сообщений без живого соединения.
type MessageFetcher interface {
	RoomMessages(ctx context.Context, roomID string) ([]Message, error)
	PostRoomMessage(ctx context.Context, roomID, content string) (*Message, error)
}

// DeriveDirectRoomID детерминированно выводит идентификатор комнаты
// личной переписки: оба участника получают один и тот же id
// независимо от порядка аргументов.
func DeriveDirectRoomID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm_%d_%d", a, b)
}
