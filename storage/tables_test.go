package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	created := time.Unix(1700000000, 123456789).UTC()
	task := domain.Task{
		ID:          "t1",
		Owner:       "ann@example.com",
		Status:      domain.StatusInProgress,
		Order:       7,
		Title:       "write",
		Description: "docs",
		CreatedAt:   created,
	}
	payload, err := encodeTask(task)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["PartitionKey"] != task.Owner || raw["RowKey"] != task.ID {
		t.Fatalf("unexpected keys: %v", raw)
	}
	if raw["Order@odata.type"] != edmInt32 || raw["CreatedAt@odata.type"] != edmInt64 {
		t.Fatalf("missing edm annotations: %v", raw)
	}
	if raw["CreatedAt"] != fmt.Sprint(created.UnixNano()) {
		t.Fatalf("CreatedAt must be a string-encoded int64, got %v", raw["CreatedAt"])
	}

	got, err := decodeTask(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, task.CreatedAt)
	}
	got.CreatedAt = task.CreatedAt
	if got != task {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, task)
	}
}

func TestEncodeMergeOnlyCarriesChangedFields(t *testing.T) {
	order := 3
	payload, err := encodeMerge("u", "t1", domain.TaskUpdate{Order: &order})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["Title"]; ok {
		t.Fatalf("title must be omitted: %v", raw)
	}
	if _, ok := raw["Status"]; ok {
		t.Fatalf("status must be omitted: %v", raw)
	}
	if raw["Order"] != float64(3) || raw["Order@odata.type"] != edmInt32 {
		t.Fatalf("unexpected order fields: %v", raw)
	}
}

func TestOrderBatchesSplitAtHundred(t *testing.T) {
	assignments := make([]domain.OrderAssignment, 0, 250)
	for i := 0; i < 250; i++ {
		assignments = append(assignments, domain.OrderAssignment{ID: fmt.Sprintf("t%d", i), Order: i})
	}
	batches, err := orderBatches("u", assignments)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	if len(batches) != 3 || len(batches[0]) != 100 || len(batches[1]) != 100 || len(batches[2]) != 50 {
		t.Fatalf("unexpected batch sizes: %d", len(batches))
	}
	for _, a := range batches[0] {
		if a.ActionType != aztables.TransactionTypeUpdateMerge {
			t.Fatalf("unexpected action %v", a.ActionType)
		}
	}
	if b, _ := orderBatches("u", nil); len(b) != 0 {
		t.Fatalf("no assignments must produce no batches")
	}
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	if got := bucketFilter("o'neil", domain.StatusTodo); got != "PartitionKey eq 'o''neil' and Status eq 'todo'" {
		t.Fatalf("unexpected filter %q", got)
	}
}

func TestTablesErrorMapsNotFound(t *testing.T) {
	notFound := &azcore.ResponseError{StatusCode: http.StatusNotFound}
	if err := tablesError("get task", notFound); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	busy := &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable}
	var se *domain.StoreError
	if err := tablesError("get task", busy); !errors.As(err, &se) || se.Op != "get task" {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestUserEntityRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	payload, err := encodeUser(domain.UserProfile{Email: "a@b.io", Name: "Ann", PhotoURL: "https://x/p.png"}, now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	u, err := decodeUser(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.Email != "a@b.io" || u.Name != "Ann" || !u.CreatedAt.Equal(now) || !u.LastLogin.Equal(now) {
		t.Fatalf("unexpected user %+v", u)
	}

	login, err := encodeLogin("a@b.io", now)
	if err != nil {
		t.Fatalf("encode login: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(login, &raw)
	if _, ok := raw["Name"]; ok {
		t.Fatalf("login merge must not overwrite profile: %v", raw)
	}
}

// TestTablesIntegration runs against Azurite or a real account when
// TASKBOARD_TEST_TABLES is set to a connection string.
func TestTablesIntegration(t *testing.T) {
	conn := os.Getenv("TASKBOARD_TEST_TABLES")
	if conn == "" {
		t.Skip("TASKBOARD_TEST_TABLES not set")
	}
	suffix := uuid.NewString()[:8]
	st, err := NewTables(conn, "tasks"+suffix, "users"+suffix)
	if err != nil {
		t.Fatalf("new tables: %v", err)
	}
	ctx := context.Background()
	if err := st.EnsureTables(ctx); err != nil {
		t.Fatalf("ensure tables: %v", err)
	}
	t.Cleanup(func() {
		_, _ = st.taskTable.Delete(context.Background(), nil)
		_, _ = st.userTable.Delete(context.Background(), nil)
	})

	owner := "it@example.com"
	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		task := domain.Task{ID: id, Owner: owner, Status: domain.StatusTodo, Order: i, Title: id, CreatedAt: now.Add(time.Duration(i))}
		if err := st.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if max, ok, err := st.MaxOrder(ctx, owner, domain.StatusTodo); err != nil || !ok || max != 2 {
		t.Fatalf("MaxOrder = %d %v %v", max, ok, err)
	}
	if err := st.ApplyOrder(ctx, owner, []domain.OrderAssignment{{ID: "c", Order: 0}, {ID: "b", Order: 1}, {ID: "a", Order: 2}}); err != nil {
		t.Fatalf("apply order: %v", err)
	}
	tasks, err := st.ListTasks(ctx, owner)
	if err != nil || len(tasks) != 3 || tasks[0].ID != "c" {
		t.Fatalf("unexpected tasks %+v %v", tasks, err)
	}
	if err := st.DeleteTask(ctx, owner, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
