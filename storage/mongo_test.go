package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"taskboard/domain"
)

func TestUpdateDocSetsOnlyProvidedFields(t *testing.T) {
	title := "new"
	status := domain.StatusFinished
	set := updateDoc(domain.TaskUpdate{Title: &title, Status: &status})
	want := bson.D{{Key: "status", Value: "finished"}, {Key: "title", Value: "new"}}
	if len(set) != len(want) {
		t.Fatalf("got %v, want %v", set, want)
	}
	for i := range want {
		if set[i].Key != want[i].Key || set[i].Value != want[i].Value {
			t.Fatalf("got %v, want %v", set, want)
		}
	}
	if len(updateDoc(domain.TaskUpdate{})) != 0 {
		t.Fatal("empty update must produce an empty $set")
	}
}

func TestTaskDocKeepsNanoseconds(t *testing.T) {
	created := time.Unix(10, 987654321).UTC()
	doc := toTaskDoc(domain.Task{ID: "a", Owner: "u", Status: domain.StatusTodo, CreatedAt: created})
	// BSON dates drop sub-millisecond precision on the way through the server.
	doc.CreatedAt = created.Truncate(time.Millisecond)
	if got := doc.task().CreatedAt; !got.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got, created)
	}
}

// TestMongoIntegration runs when TASKBOARD_TEST_MONGO holds a connection URI.
func TestMongoIntegration(t *testing.T) {
	uri := os.Getenv("TASKBOARD_TEST_MONGO")
	if uri == "" {
		t.Skip("TASKBOARD_TEST_MONGO not set")
	}
	ctx := context.Background()
	db := "taskboard_test_" + uuid.NewString()[:8]
	st, err := NewMongo(ctx, MongoOptions{URI: uri, Database: db, TasksCollection: "tasks", UsersCollection: "users_collection"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = st.client.Database(db).Drop(context.Background())
		_ = st.Close(context.Background())
	})
	if err := st.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}

	owner := "it@example.com"
	now := time.Now().UTC()
	for i, id := range []string{"a", "b"} {
		if err := st.InsertTask(ctx, domain.Task{ID: id, Owner: owner, Status: domain.StatusTodo, Order: i, Title: id, CreatedAt: now}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := st.InsertTask(ctx, domain.Task{ID: "a", Owner: owner, Status: domain.StatusTodo}); err == nil {
		t.Fatal("duplicate id must fail")
	}
	if max, ok, err := st.MaxOrder(ctx, owner, domain.StatusTodo); err != nil || !ok || max != 1 {
		t.Fatalf("MaxOrder = %d %v %v", max, ok, err)
	}
	if err := st.ApplyOrder(ctx, owner, []domain.OrderAssignment{{ID: "b", Order: 0}, {ID: "a", Order: 1}}); err != nil {
		t.Fatalf("apply order: %v", err)
	}
	tasks, err := st.ListTasks(ctx, owner)
	if err != nil || len(tasks) != 2 || tasks[0].ID != "b" {
		t.Fatalf("unexpected tasks %+v %v", tasks, err)
	}
	if err := st.DeleteTask(ctx, owner, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := st.UpsertUser(ctx, domain.UserProfile{Email: "a@b.io", Name: "Ann"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertUser(ctx, domain.UserProfile{Email: "a@b.io", Name: "Other"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u, err := st.GetUser(ctx, "a@b.io")
	if err != nil || u.Name != "Ann" {
		t.Fatalf("unexpected user %+v %v", u, err)
	}
}
