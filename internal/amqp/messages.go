package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ChangeKind names the write that produced a change message.
type ChangeKind string

const (
	ExpenseCreated ChangeKind = "expense.created"
	ExpenseDeleted ChangeKind = "expense.deleted"
	GroupChanged   ChangeKind = "group.changed"
	GroupDeleted   ChangeKind = "group.deleted"
	UserChanged    ChangeKind = "user.changed"
)

// ChangeMessage tells other processes that the stored state moved. It only
// identifies what changed; consumers reload whatever they need from the store.
type ChangeMessage struct {
	Kind      ChangeKind `json:"kind"`
	GroupID   string     `json:"groupId,omitempty"`
	ExpenseID string     `json:"expenseId,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewChangeMessage(kind ChangeKind, groupID, expenseID string) *ChangeMessage {
	return &ChangeMessage{
		Kind:      kind,
		GroupID:   groupID,
		ExpenseID: expenseID,
		Timestamp: time.Now(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Kind == "" {
		return nil, errors.New("change message without kind")
	}
	return &msg, nil
}
