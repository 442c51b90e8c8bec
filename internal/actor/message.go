// Package actor implements the mailbox-based actor runtime: registration,
// lifecycle, broadcast, retry with exponential backoff, a per-recipient
// circuit breaker, and a dead-letter queue.
package actor

import (
	"time"

	"github.com/google/uuid"
)

// MessageType tags a Message's intent. The set is a generalized version
// of the reference implementation's message taxonomy: session lifecycle,
// STM/LTM read/write, personality read/adapt, partner read/update,
// mode-detect, generation request/response, and DLQ/error events.
type MessageType string

const (
	MsgUserMessage        MessageType = "user_message"
	MsgGenerateResponse    MessageType = "generate_response"
	MsgGenerationComplete  MessageType = "generation_complete"
	MsgRateLimitCheck      MessageType = "rate_limit_check"
	MsgRateLimitResult     MessageType = "rate_limit_result"
	MsgSTMContextRequest   MessageType = "stm_context_request"
	MsgSTMContextResult    MessageType = "stm_context_result"
	MsgSTMAppendTurn       MessageType = "stm_append_turn"
	MsgLTMQueryRequest     MessageType = "ltm_query_request"
	MsgLTMQueryResult      MessageType = "ltm_query_result"
	MsgLTMEvaluateTurn     MessageType = "ltm_evaluate_turn"
	MsgEmbeddingRequest    MessageType = "embedding_request"
	MsgEmbeddingResult     MessageType = "embedding_result"
	MsgEmotionRequest      MessageType = "emotion_request"
	MsgEmotionResult       MessageType = "emotion_result"
	MsgPersonalityRequest  MessageType = "personality_request"
	MsgPersonalityResult   MessageType = "personality_result"
	MsgPersonalityAdapt    MessageType = "personality_adapt"
	MsgPartnerRequest      MessageType = "partner_request"
	MsgPartnerResult       MessageType = "partner_result"
	MsgPartnerUpdate       MessageType = "partner_update"
	MsgModeDetectRequest   MessageType = "mode_detect_request"
	MsgModeDetectResult    MessageType = "mode_detect_result"
	MsgDeadLettered        MessageType = "dead_lettered"
	MsgCircuitOpened       MessageType = "circuit_opened"
	MsgCircuitClosed       MessageType = "circuit_closed"
)

// Message is the unit of actor-to-actor communication.
type Message struct {
	MessageID     string
	SenderID      string
	RecipientID   string
	Type          MessageType
	Payload       map[string]any
	Timestamp     time.Time
	ReplyTo       string
	CorrelationID string
}

// New builds a Message ready for Send, stamping a fresh id and timestamp.
func New(senderID, recipientID string, msgType MessageType, payload map[string]any) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{
		MessageID:   uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Type:        msgType,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

// WithReplyTo returns a copy of m addressed for a reply to replyTo.
func (m Message) WithReplyTo(replyTo string) Message {
	m.ReplyTo = replyTo
	return m
}
