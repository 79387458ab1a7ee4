package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// Inbound event names.
const (
	EventGetTasks         = "getTasks"
	EventAddTask          = "addTask"
	EventUpdateTaskStatus = "updateTaskStatus"
	EventUpdateTask       = "updateTask"
	EventDeleteTask       = "deleteTask"
	EventReorderTasks     = "reorderTasks"

	EventAck = "ack"
)

const maxFrameSize = 1 << 20

type inboundFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ackFrame struct {
	Event string       `json:"event"`
	ID    string       `json:"id,omitempty"`
	OK    bool         `json:"ok"`
	Data  *domain.Task `json:"data,omitempty"`
	Error *ackError    `json:"error,omitempty"`
}

type ownerPayload struct {
	Owner string `json:"owner"`
}

type addTaskPayload struct {
	Owner       string        `json:"owner"`
	Status      domain.Status `json:"status"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
}

type statusPayload struct {
	TaskID string        `json:"taskId"`
	Status domain.Status `json:"status"`
	Owner  string        `json:"owner"`
}

type updatePayload struct {
	TaskID string           `json:"taskId"`
	Owner  string           `json:"owner"`
	Fields domain.TaskPatch `json:"fields"`
}

type deletePayload struct {
	TaskID string `json:"taskId"`
	Owner  string `json:"owner"`
}

type reorderPayload struct {
	Owner   string   `json:"owner"`
	TaskIDs []string `json:"taskIds"`
}

func malformed(reason string) error {
	return &domain.ValidationError{Reason: reason}
}

// decodeStrict decodes data into v rejecting unknown fields.
func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return malformed("missing data")
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return malformed("malformed payload: " + err.Error())
	}
	return nil
}

func decodeFrame(raw []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := sonic.ConfigStd.NewDecoder(io.LimitReader(bytes.NewReader(raw), maxFrameSize)).Decode(&f); err != nil {
		return inboundFrame{}, malformed("malformed frame")
	}
	if strings.TrimSpace(f.Event) == "" {
		return f, malformed("missing event")
	}
	return f, nil
}

// decodeOwner accepts either {"owner": "..."} or a bare JSON string.
func decodeOwner(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var owner string
		if err := sonic.Unmarshal(trimmed, &owner); err != nil {
			return "", malformed("malformed payload")
		}
		return owner, nil
	}
	var p ownerPayload
	if err := decodeStrict(data, &p); err != nil {
		return "", err
	}
	return p.Owner, nil
}

func newAck(id string, err error) ackFrame {
	ack := ackFrame{Event: EventAck, ID: id, OK: err == nil}
	if err != nil {
		ack.Error = &ackError{Code: domain.ErrorCode(err), Message: clientMessage(err)}
	}
	return ack
}

// clientMessage hides internal and store details from clients.
func clientMessage(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, domain.ErrNotFound):
		return "task not found"
	case domain.ErrorCode(err) == domain.CodeStore:
		return "storage unavailable, please retry"
	}
	return "internal error"
}

func encodeAck(ack ackFrame) ([]byte, error) {
	return sonic.Marshal(ack)
}
