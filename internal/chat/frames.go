package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Frame type discriminators on the wire.
const (
	frameTypeRegister    = "register"
	frameTypeUnregister  = "unregister"
	frameTypeChatMessage = "chat_message"
	frameTypeHistory     = "historico"
	frameTypeError       = "error"
)

// ErrUnknownFrameType marks an inbound frame whose type field is not one
// of the recognized kinds. Such frames are logged and ignored, never
// fatal to the connection.
var ErrUnknownFrameType = errors.New("unknown frame type")

// InboundFrame is the closed set of frames a client may send. Decoding
// happens once at the boundary; the session handles each variant
// exhaustively.
type InboundFrame interface {
	inboundFrame()
}

// RegisterFrame asks to join a ticket's live chat.
type RegisterFrame struct {
	TicketID int64
	UserID   int64
}

// UnregisterFrame leaves a ticket's live chat.
type UnregisterFrame struct {
	TicketID int64
	UserID   int64
}

// ChatMessageFrame carries one chat message from a participant.
type ChatMessageFrame struct {
	TicketID int64
	UserID   int64
	Body     string
}

func (RegisterFrame) inboundFrame()    {}
func (UnregisterFrame) inboundFrame()  {}
func (ChatMessageFrame) inboundFrame() {}

type inboundEnvelope struct {
	Type     string `json:"type"`
	TicketID int64  `json:"ticket_id"`
	UserID   int64  `json:"usuario_id"`
	Conteudo string `json:"conteudo"`
}

// DecodeFrame parses one inbound payload into its variant. Malformed
// payloads and missing required fields produce an error the session
// answers with an error frame; ErrUnknownFrameType is returned for
// intact frames of an unrecognized kind.
func DecodeFrame(payload []byte) (InboundFrame, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.New("mensagem inválida")
	}

	switch env.Type {
	case frameTypeRegister:
		if env.TicketID <= 0 || env.UserID <= 0 {
			return nil, errors.New("ticket_id e usuario_id são obrigatórios")
		}
		return RegisterFrame{TicketID: env.TicketID, UserID: env.UserID}, nil
	case frameTypeUnregister:
		if env.TicketID <= 0 || env.UserID <= 0 {
			return nil, errors.New("ticket_id e usuario_id são obrigatórios")
		}
		return UnregisterFrame{TicketID: env.TicketID, UserID: env.UserID}, nil
	case frameTypeChatMessage:
		if env.TicketID <= 0 || env.UserID <= 0 {
			return nil, errors.New("ticket_id e usuario_id são obrigatórios")
		}
		if strings.TrimSpace(env.Conteudo) == "" {
			return nil, errors.New("conteudo é obrigatório")
		}
		return ChatMessageFrame{TicketID: env.TicketID, UserID: env.UserID, Body: env.Conteudo}, nil
	default:
		return nil, ErrUnknownFrameType
	}
}

// OutboundFrame is anything the server writes to a client.
type OutboundFrame interface {
	outboundFrame()
}

// HistoryEntry is one replayed message inside a historico frame.
type HistoryEntry struct {
	UserID    int64  `json:"usuario_id"`
	From      string `json:"de"`
	Conteudo  string `json:"conteudo"`
	DataEnvio string `json:"data_envio"`
}

// HistoryFrame replays the ordered message log to a newly registered
// participant.
type HistoryFrame struct {
	Type      string         `json:"type"`
	TicketID  int64          `json:"ticket_id"`
	Historico []HistoryEntry `json:"historico"`
}

// MessageFrame delivers one live chat message.
type MessageFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"usuario_id"`
	From      string `json:"de"`
	Conteudo  string `json:"conteudo"`
	DataEnvio string `json:"data_envio"`
}

// ErrorFrame reports a rejected operation back to the sender.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (HistoryFrame) outboundFrame() {}
func (MessageFrame) outboundFrame() {}
func (ErrorFrame) outboundFrame()   {}

// NewHistoryFrame builds the historico frame from persisted messages in
// replay order. The slice is always non-nil so an empty history encodes
// as [] rather than null.
func NewHistoryFrame(ticketID int64, messages []domain.ChatMessage) HistoryFrame {
	entries := make([]HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, HistoryEntry{
			UserID:    msg.SenderID,
			From:      msg.SenderName,
			Conteudo:  msg.Body,
			DataEnvio: FormatDataEnvio(msg.SentAt),
		})
	}
	return HistoryFrame{Type: frameTypeHistory, TicketID: ticketID, Historico: entries}
}

// NewMessageFrame builds the broadcast frame for one persisted message.
func NewMessageFrame(msg *domain.ChatMessage) MessageFrame {
	return MessageFrame{
		Type:      frameTypeChatMessage,
		UserID:    msg.SenderID,
		From:      msg.SenderName,
		Conteudo:  msg.Body,
		DataEnvio: FormatDataEnvio(msg.SentAt),
	}
}

// NewErrorFrame builds an error frame with the given message.
func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: frameTypeError, Error: message}
}

// FormatDataEnvio renders timestamps the way clients expect them:
// dd/mm/yyyy hh:mm:ss.
func FormatDataEnvio(t time.Time) string {
	return t.Format("02/01/2006 15:04:05")
}
