package websocket

import (
	"time"

	"cryptoarb/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeOpportunity - обнаружена новая арбитражная возможность
	MessageTypeOpportunity MessageType = "opportunity"

	// MessageTypeExecution - смена статуса исполнения возможности
	MessageTypeExecution MessageType = "execution"

	// MessageTypeVenueStatus - смена статуса биржевого подключения
	MessageTypeVenueStatus MessageType = "venueStatus"

	// MessageTypeTransfer - смена статуса межбиржевого перевода
	MessageTypeTransfer MessageType = "transfer"
)

// BaseMessage - общие поля всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// OpportunityMessage - сообщение о новой возможности с полной цепочкой ног
type OpportunityMessage struct {
	BaseMessage
	Data *models.OpportunityDetail `json:"data"`
}

// ExecutionMessage - сообщение о ходе исполнения
type ExecutionMessage struct {
	BaseMessage
	OpportunityID int64  `json:"opportunity_id"`
	Status        string `json:"status"`
}

// VenueStatusMessage - сообщение о состоянии биржевого подключения
type VenueStatusMessage struct {
	BaseMessage
	Data *models.VenueStatus `json:"data"`
}

// TransferMessage - сообщение о переводе средств
type TransferMessage struct {
	BaseMessage
	Data *models.Transfer `json:"data"`
}

// NewOpportunityMessage создает сообщение о новой возможности
func NewOpportunityMessage(d *models.OpportunityDetail) *OpportunityMessage {
	return &OpportunityMessage{
		BaseMessage: BaseMessage{Type: MessageTypeOpportunity, Timestamp: time.Now()},
		Data:        d,
	}
}

// NewExecutionMessage создает сообщение о смене статуса исполнения
func NewExecutionMessage(opportunityID int64, status string) *ExecutionMessage {
	return &ExecutionMessage{
		BaseMessage:   BaseMessage{Type: MessageTypeExecution, Timestamp: time.Now()},
		OpportunityID: opportunityID,
		Status:        status,
	}
}

// NewVenueStatusMessage создает сообщение о статусе биржи
func NewVenueStatusMessage(st *models.VenueStatus) *VenueStatusMessage {
	return &VenueStatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeVenueStatus, Timestamp: time.Now()},
		Data:        st,
	}
}

// NewTransferMessage создает сообщение о переводе
func NewTransferMessage(t *models.Transfer) *TransferMessage {
	return &TransferMessage{
		BaseMessage: BaseMessage{Type: MessageTypeTransfer, Timestamp: time.Now()},
		Data:        t,
	}
}
