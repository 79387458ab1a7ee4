package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard/domain"
)

const (
	edmInt32    = "Edm.Int32"
	edmInt64    = "Edm.Int64"
	edmDateTime = "Edm.DateTime"

	usersPartition = "user"

	// Azure Table Storage accepts at most 100 operations per transaction.
	maxBatchSize = 100

	maxUpdateAttempts = 5
)

// Tables stores tasks in Azure Table Storage with one partition per owner,
// so a reorder of up to 100 tasks commits as one entity group transaction.
type Tables struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tasksTable, usersTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{taskTable: svc.NewClient(tasksTable), userTable: svc.NewClient(usersTable)}, nil
}

// EnsureTables creates the task and user tables when they do not exist.
func (t *Tables) EnsureTables(ctx context.Context) error {
	for _, c := range []*aztables.Client{t.taskTable, t.userTable} {
		if _, err := c.CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

type taskEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Status        string `json:"Status"`
	Order         int    `json:"Order"`
	OrderType     string `json:"Order@odata.type,omitempty"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

// taskMerge carries a partial task entity for merge updates.
type taskMerge struct {
	PartitionKey string  `json:"PartitionKey"`
	RowKey       string  `json:"RowKey"`
	Status       *string `json:"Status,omitempty"`
	Order        *int    `json:"Order,omitempty"`
	OrderType    *string `json:"Order@odata.type,omitempty"`
	Title        *string `json:"Title,omitempty"`
	Description  *string `json:"Description,omitempty"`
}

func encodeTask(t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		PartitionKey:  t.Owner,
		RowKey:        t.ID,
		Status:        string(t.Status),
		Order:         t.Order,
		OrderType:     edmInt32,
		Title:         t.Title,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	})
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Owner:       ent.PartitionKey,
		Status:      domain.Status(ent.Status),
		Order:       ent.Order,
		Title:       ent.Title,
		Description: ent.Description,
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
	}, nil
}

func encodeMerge(owner, id string, upd domain.TaskUpdate) ([]byte, error) {
	m := taskMerge{PartitionKey: owner, RowKey: id, Title: upd.Title, Description: upd.Description}
	if upd.Status != nil {
		m.Status = to.Ptr(string(*upd.Status))
	}
	if upd.Order != nil {
		m.Order = upd.Order
		m.OrderType = to.Ptr(edmInt32)
	}
	return json.Marshal(m)
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func ownerFilter(owner string) string {
	return "PartitionKey eq " + quote(owner)
}

func bucketFilter(owner string, status domain.Status) string {
	return ownerFilter(owner) + " and Status eq " + quote(string(status))
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func tablesError(op string, err error) error {
	if statusCode(err) == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return domain.NewStoreError(op, err)
}

func (t *Tables) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	task, _, err := t.getTask(ctx, owner, id)
	return task, err
}

func (t *Tables) getTask(ctx context.Context, owner, id string) (domain.Task, azcore.ETag, error) {
	resp, err := t.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		return domain.Task{}, "", tablesError("get task", err)
	}
	task, err := decodeTask(resp.Value)
	if err != nil {
		return domain.Task{}, "", domain.NewStoreError("decode task", err)
	}
	return task, resp.ETag, nil
}

func (t *Tables) listTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := t.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.NewStoreError("list tasks", err)
		}
		for _, e := range resp.Entities {
			task, err := decodeTask(e)
			if err != nil {
				return nil, domain.NewStoreError("decode task", err)
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (t *Tables) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	tasks, err := t.listTasks(ctx, ownerFilter(owner))
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

// MaxOrder scans the bucket; table queries cannot sort server side.
func (t *Tables) MaxOrder(ctx context.Context, owner string, status domain.Status) (int, bool, error) {
	tasks, err := t.listTasks(ctx, bucketFilter(owner, status))
	if err != nil {
		return 0, false, err
	}
	max, ok := 0, false
	for _, task := range tasks {
		if !ok || task.Order > max {
			max, ok = task.Order, true
		}
	}
	return max, ok, nil
}

func (t *Tables) InsertTask(ctx context.Context, task domain.Task) error {
	payload, err := encodeTask(task)
	if err != nil {
		return domain.NewStoreError("encode task", err)
	}
	if _, err := t.taskTable.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return &domain.StoreError{Op: "insert task", Err: errDuplicateID}
		}
		return domain.NewStoreError("insert task", err)
	}
	return nil
}

// UpdateTask merges the update guarded by the entity's ETag and retries when
// another writer got there first.
func (t *Tables) UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) (domain.Task, error) {
	payload, err := encodeMerge(owner, id, upd)
	if err != nil {
		return domain.Task{}, domain.NewStoreError("encode task", err)
	}
	for attempt := 1; ; attempt++ {
		current, etag, err := t.getTask(ctx, owner, id)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = t.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		if err == nil {
			upd.Apply(&current)
			return current, nil
		}
		if statusCode(err) != http.StatusPreconditionFailed || attempt == maxUpdateAttempts {
			return domain.Task{}, tablesError("update task", err)
		}
	}
}

func (t *Tables) DeleteTask(ctx context.Context, owner, id string) error {
	if _, err := t.taskTable.DeleteEntity(ctx, owner, id, nil); err != nil {
		return tablesError("delete task", err)
	}
	return nil
}

// ApplyOrder submits the assignments as entity group transactions of up to
// 100 merges. Each batch is atomic; a failure after an earlier batch committed
// is reported as a partial reorder.
func (t *Tables) ApplyOrder(ctx context.Context, owner string, assignments []domain.OrderAssignment) error {
	batches, err := orderBatches(owner, assignments)
	if err != nil {
		return domain.NewStoreError("encode order", err)
	}
	for i, batch := range batches {
		if _, err := t.taskTable.SubmitTransaction(ctx, batch, nil); err != nil {
			if i > 0 {
				return &domain.StoreError{Op: "apply order", Err: fmt.Errorf("%w: batch %d of %d: %w", domain.ErrPartialReorder, i+1, len(batches), err)}
			}
			return tablesError("apply order", err)
		}
	}
	return nil
}

func orderBatches(owner string, assignments []domain.OrderAssignment) ([][]aztables.TransactionAction, error) {
	etag := azcore.ETagAny
	var batches [][]aztables.TransactionAction
	for start := 0; start < len(assignments); start += maxBatchSize {
		end := min(start+maxBatchSize, len(assignments))
		batch := make([]aztables.TransactionAction, 0, end-start)
		for _, a := range assignments[start:end] {
			order := a.Order
			payload, err := encodeMerge(owner, a.ID, domain.TaskUpdate{Order: &order})
			if err != nil {
				return nil, err
			}
			batch = append(batch, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeUpdateMerge,
				Entity:     payload,
				IfMatch:    &etag,
			})
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

type userEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Name          string `json:"Name,omitempty"`
	PhotoURL      string `json:"PhotoURL,omitempty"`
	CreatedAt     string `json:"CreatedAt,omitempty"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
	LastLogin     string `json:"LastLogin"`
	LastLoginType string `json:"LastLogin@odata.type"`
}

func encodeUser(u domain.UserProfile, now time.Time) ([]byte, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	return json.Marshal(userEntity{
		PartitionKey:  usersPartition,
		RowKey:        u.Email,
		Name:          u.Name,
		PhotoURL:      u.PhotoURL,
		CreatedAt:     ts,
		CreatedAtType: edmDateTime,
		LastLogin:     ts,
		LastLoginType: edmDateTime,
	})
}

func encodeLogin(email string, now time.Time) ([]byte, error) {
	return json.Marshal(userEntity{
		PartitionKey:  usersPartition,
		RowKey:        email,
		LastLogin:     now.UTC().Format(time.RFC3339Nano),
		LastLoginType: edmDateTime,
	})
}

func decodeUser(data []byte) (domain.UserProfile, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.UserProfile{}, err
	}
	u := domain.UserProfile{Email: ent.RowKey, Name: ent.Name, PhotoURL: ent.PhotoURL}
	if ent.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("CreatedAt: %w", err)
		}
		u.CreatedAt = ts
	}
	if ent.LastLogin != "" {
		ts, err := time.Parse(time.RFC3339Nano, ent.LastLogin)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("LastLogin: %w", err)
		}
		u.LastLogin = ts
	}
	return u, nil
}

// UpsertUser inserts the full profile and falls back to refreshing only
// LastLogin when the user already exists.
func (t *Tables) UpsertUser(ctx context.Context, u domain.UserProfile) error {
	now := time.Now()
	payload, err := encodeUser(u, now)
	if err != nil {
		return domain.NewStoreError("encode user", err)
	}
	_, err = t.userTable.AddEntity(ctx, payload, nil)
	if err == nil {
		return nil
	}
	if statusCode(err) != http.StatusConflict {
		return domain.NewStoreError("insert user", err)
	}
	payload, err = encodeLogin(u.Email, now)
	if err != nil {
		return domain.NewStoreError("encode user", err)
	}
	etag := azcore.ETagAny
	if _, err := t.userTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.NewStoreError("update user", err)
	}
	return nil
}

func (t *Tables) GetUser(ctx context.Context, email string) (domain.UserProfile, error) {
	resp, err := t.userTable.GetEntity(ctx, usersPartition, email, nil)
	if err != nil {
		return domain.UserProfile{}, tablesError("get user", err)
	}
	u, err := decodeUser(resp.Value)
	if err != nil {
		return domain.UserProfile{}, domain.NewStoreError("decode user", err)
	}
	return u, nil
}

// Ping reads at most one entity from the task table.
func (t *Tables) Ping(ctx context.Context) error {
	pager := t.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: to.Ptr(int32(1))})
	if _, err := pager.NextPage(ctx); err != nil {
		return domain.NewStoreError("ping", err)
	}
	return nil
}
