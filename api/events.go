package api

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/subscription"
)

// TaskService is the mutation surface the event handlers drive.
type TaskService interface {
	CreateTask(ctx context.Context, owner string, in domain.NewTask) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, owner, id string, status domain.Status) (domain.Task, error)
	UpdateTaskFields(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, owner, id string) error
	ReorderTasks(ctx context.Context, owner string, ids []string) error
	Refresh(ctx context.Context, owner string) error
	View(ctx context.Context, owner string) (domain.GroupedView, error)
}

type eventHandler struct {
	svc    TaskService
	reg    *subscription.Registry
	dedupe Deduper
	logger *log.Logger
}

// handle runs one inbound frame and returns its acknowledgement. Any view
// broadcast caused by the event has been queued before handle returns.
func (h *eventHandler) handle(ctx context.Context, conn *subscription.Conn, raw []byte) (ack ackFrame) {
	metrics := newEventMetrics(h.logger, conn.ID)
	var err error
	defer func() {
		metrics.Log(err)
	}()

	frame, err := decodeFrame(raw)
	if err != nil {
		metrics.SetErrorStage("decode_frame")
		return newAck(frame.ID, err)
	}
	metrics.SetEvent(frame.Event)

	var task *domain.Task
	mutateStart := time.Now()
	switch frame.Event {
	case EventGetTasks:
		err = h.getTasks(ctx, conn, frame, metrics)
	case EventAddTask:
		task, err = h.addTask(ctx, frame, metrics)
	case EventUpdateTaskStatus:
		var p statusPayload
		if err = decodeStrict(frame.Data, &p); err == nil {
			metrics.SetOwner(p.Owner)
			var t domain.Task
			t, err = h.svc.UpdateTaskStatus(ctx, p.Owner, p.TaskID, p.Status)
			task = taskOrNil(t, err)
		}
	case EventUpdateTask:
		var p updatePayload
		if err = decodeStrict(frame.Data, &p); err == nil {
			metrics.SetOwner(p.Owner)
			var t domain.Task
			t, err = h.svc.UpdateTaskFields(ctx, p.Owner, p.TaskID, p.Fields)
			task = taskOrNil(t, err)
		}
	case EventDeleteTask:
		var p deletePayload
		if err = decodeStrict(frame.Data, &p); err == nil {
			metrics.SetOwner(p.Owner)
			err = h.svc.DeleteTask(ctx, p.Owner, p.TaskID)
		}
	case EventReorderTasks:
		var p reorderPayload
		if err = decodeStrict(frame.Data, &p); err == nil {
			metrics.SetOwner(p.Owner)
			err = h.svc.ReorderTasks(ctx, p.Owner, p.TaskIDs)
		}
	default:
		err = &domain.ValidationError{Field: "event", Reason: "unknown event " + frame.Event}
	}
	metrics.ObserveMutate(time.Since(mutateStart))
	if err != nil {
		metrics.SetErrorStage(domain.ErrorCode(err))
	}

	ack = newAck(frame.ID, err)
	ack.Data = task
	return ack
}

func taskOrNil(t domain.Task, err error) *domain.Task {
	if err != nil {
		return nil
	}
	return &t
}

// getTasks scopes the connection to owner and pushes that owner's view.
func (h *eventHandler) getTasks(ctx context.Context, conn *subscription.Conn, frame inboundFrame, metrics *eventMetrics) error {
	owner, err := decodeOwner(frame.Data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(owner) == "" {
		return &domain.ValidationError{Field: "owner", Reason: "required"}
	}
	metrics.SetOwner(owner)
	h.reg.Scope(conn, owner)
	return h.svc.Refresh(ctx, owner)
}

// addTask creates a task once per request id.
func (h *eventHandler) addTask(ctx context.Context, frame inboundFrame, metrics *eventMetrics) (*domain.Task, error) {
	var p addTaskPayload
	if err := decodeStrict(frame.Data, &p); err != nil {
		return nil, err
	}
	metrics.SetOwner(p.Owner)

	dedupe := h.dedupe != nil && frame.ID != "" && strings.TrimSpace(p.Owner) != ""
	if dedupe {
		added, err := h.dedupe.Add(ctx, p.Owner, frame.ID)
		switch {
		case err != nil:
			h.logger.WithError(err).WithField("owner", p.Owner).Warn("dedupe unavailable, processing request")
			dedupe = false
		case !added:
			metrics.SetDuplicate()
			return nil, nil
		}
	}

	t, err := h.svc.CreateTask(ctx, p.Owner, domain.NewTask{Status: p.Status, Title: p.Title, Description: p.Description})
	if err != nil {
		if dedupe {
			if rerr := h.dedupe.Remove(ctx, p.Owner, frame.ID); rerr != nil {
				h.logger.WithError(rerr).WithField("owner", p.Owner).Warn("release request id")
			}
		}
		return nil, err
	}
	return &t, nil
}
