package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"taskboard/domain"
)

// mongo server error code returned when transactions are used against a
// standalone deployment.
const codeIllegalOperation = 20

// Mongo stores tasks and users in MongoDB collections.
type Mongo struct {
	client *mongo.Client
	tasks  *mongo.Collection
	users  *mongo.Collection

	// noTxn is set once the deployment rejected a transaction.
	noTxn atomic.Bool
	now   func() time.Time
}

type MongoOptions struct {
	URI             string
	Database        string
	TasksCollection string
	UsersCollection string
	ConnectTimeout  time.Duration
}

// NewMongo connects to the deployment and verifies it with a ping.
func NewMongo(ctx context.Context, o MongoOptions) (*Mongo, error) {
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(o.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	db := client.Database(o.Database)
	return &Mongo{
		client: client,
		tasks:  db.Collection(o.TasksCollection),
		users:  db.Collection(o.UsersCollection),
		now:    time.Now,
	}, nil
}

// EnsureIndexes creates the indexes the queries rely on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "order", Value: 1}, {Key: "createdNs", Value: 1}}},
		{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "status", Value: 1}, {Key: "order", Value: -1}}},
	})
	if err != nil {
		return err
	}
	_, err = m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type taskDoc struct {
	ID          string    `bson:"_id"`
	Owner       string    `bson:"owner"`
	Status      string    `bson:"status"`
	Order       int       `bson:"order"`
	Title       string    `bson:"title"`
	Description string    `bson:"description,omitempty"`
	CreatedAt   time.Time `bson:"createdAt"`
	// CreatedNs keeps the nanosecond timestamp; BSON dates hold milliseconds.
	CreatedNs int64 `bson:"createdNs"`
}

func toTaskDoc(t domain.Task) taskDoc {
	return taskDoc{
		ID:          t.ID,
		Owner:       t.Owner,
		Status:      string(t.Status),
		Order:       t.Order,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		CreatedNs:   t.CreatedAt.UnixNano(),
	}
}

func (d taskDoc) task() domain.Task {
	created := d.CreatedAt.UTC()
	if d.CreatedNs != 0 {
		created = time.Unix(0, d.CreatedNs).UTC()
	}
	return domain.Task{
		ID:          d.ID,
		Owner:       d.Owner,
		Status:      domain.Status(d.Status),
		Order:       d.Order,
		Title:       d.Title,
		Description: d.Description,
		CreatedAt:   created,
	}
}

func taskKey(owner, id string) bson.D {
	return bson.D{{Key: "_id", Value: id}, {Key: "owner", Value: owner}}
}

// updateDoc renders a TaskUpdate as a $set document.
func updateDoc(upd domain.TaskUpdate) bson.D {
	set := bson.D{}
	if upd.Status != nil {
		set = append(set, bson.E{Key: "status", Value: string(*upd.Status)})
	}
	if upd.Order != nil {
		set = append(set, bson.E{Key: "order", Value: *upd.Order})
	}
	if upd.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *upd.Title})
	}
	if upd.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *upd.Description})
	}
	return set
}

func mongoError(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return domain.NewStoreError(op, err)
}

func (m *Mongo) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	var doc taskDoc
	if err := m.tasks.FindOne(ctx, taskKey(owner, id)).Decode(&doc); err != nil {
		return domain.Task{}, mongoError("get task", err)
	}
	return doc.task(), nil
}

func (m *Mongo) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order", Value: 1}, {Key: "createdNs", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.tasks.Find(ctx, bson.D{{Key: "owner", Value: owner}}, opts)
	if err != nil {
		return nil, domain.NewStoreError("list tasks", err)
	}
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.NewStoreError("list tasks", err)
	}
	tasks := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, d.task())
	}
	return tasks, nil
}

func (m *Mongo) MaxOrder(ctx context.Context, owner string, status domain.Status) (int, bool, error) {
	filter := bson.D{{Key: "owner", Value: owner}, {Key: "status", Value: string(status)}}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "order", Value: -1}}).
		SetProjection(bson.D{{Key: "order", Value: 1}})
	var doc struct {
		Order int `bson:"order"`
	}
	err := m.tasks.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.NewStoreError("max order", err)
	}
	return doc.Order, true, nil
}

func (m *Mongo) InsertTask(ctx context.Context, t domain.Task) error {
	if _, err := m.tasks.InsertOne(ctx, toTaskDoc(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &domain.StoreError{Op: "insert task", Err: errDuplicateID}
		}
		return domain.NewStoreError("insert task", err)
	}
	return nil
}

func (m *Mongo) UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) (domain.Task, error) {
	set := updateDoc(upd)
	if len(set) == 0 {
		return m.GetTask(ctx, owner, id)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc taskDoc
	err := m.tasks.FindOneAndUpdate(ctx, taskKey(owner, id), bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc)
	if err != nil {
		return domain.Task{}, mongoError("update task", err)
	}
	return doc.task(), nil
}

func (m *Mongo) DeleteTask(ctx context.Context, owner, id string) error {
	res, err := m.tasks.DeleteOne(ctx, taskKey(owner, id))
	if err != nil {
		return domain.NewStoreError("delete task", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func orderModels(owner string, assignments []domain.OrderAssignment) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(assignments))
	for _, a := range assignments {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(taskKey(owner, a.ID)).
			SetUpdate(bson.D{{Key: "$set", Value: bson.D{{Key: "order", Value: a.Order}}}}))
	}
	return models
}

// ApplyOrder writes all assignments inside a transaction. Deployments without
// transaction support get an ordered bulk write instead, which can leave the
// reorder half applied.
func (m *Mongo) ApplyOrder(ctx context.Context, owner string, assignments []domain.OrderAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	models := orderModels(owner, assignments)
	if !m.noTxn.Load() {
		err := m.applyOrderTxn(ctx, models)
		if !isIllegalOperation(err) {
			return err
		}
		m.noTxn.Store(true)
	}
	res, err := m.tasks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	var matched int64
	if res != nil {
		matched = res.MatchedCount
	}
	switch {
	case err != nil && matched > 0:
		return &domain.StoreError{Op: "apply order", Err: fmt.Errorf("%w: %d of %d written: %w", domain.ErrPartialReorder, matched, len(models), err)}
	case err != nil:
		return domain.NewStoreError("apply order", err)
	case matched == 0:
		return domain.ErrNotFound
	case matched < int64(len(models)):
		return &domain.StoreError{Op: "apply order", Err: fmt.Errorf("%w: %d of %d matched", domain.ErrPartialReorder, matched, len(models))}
	}
	return nil
}

func (m *Mongo) applyOrderTxn(ctx context.Context, models []mongo.WriteModel) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return domain.NewStoreError("apply order", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := m.tasks.BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
		if err != nil {
			return nil, err
		}
		if res.MatchedCount < int64(len(models)) {
			return nil, domain.ErrNotFound
		}
		return nil, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), isIllegalOperation(err):
		return err
	}
	return domain.NewStoreError("apply order", err)
}

func isIllegalOperation(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == codeIllegalOperation
}

type userDoc struct {
	Email     string    `bson:"email"`
	Name      string    `bson:"name,omitempty"`
	PhotoURL  string    `bson:"photoURL,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	LastLogin time.Time `bson:"lastLogin"`
}

// UpsertUser refreshes lastLogin and sets the profile only on first login.
func (m *Mongo) UpsertUser(ctx context.Context, u domain.UserProfile) error {
	now := m.now().UTC()
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "lastLogin", Value: now}}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "name", Value: u.Name},
			{Key: "photoURL", Value: u.PhotoURL},
			{Key: "createdAt", Value: now},
		}},
	}
	_, err := m.users.UpdateOne(ctx, bson.D{{Key: "email", Value: u.Email}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return domain.NewStoreError("upsert user", err)
	}
	return nil
}

func (m *Mongo) GetUser(ctx context.Context, email string) (domain.UserProfile, error) {
	var doc userDoc
	if err := m.users.FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&doc); err != nil {
		return domain.UserProfile{}, mongoError("get user", err)
	}
	return domain.UserProfile{
		Email:     doc.Email,
		Name:      doc.Name,
		PhotoURL:  doc.PhotoURL,
		CreatedAt: doc.CreatedAt.UTC(),
		LastLogin: doc.LastLogin.UTC(),
	}, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return domain.NewStoreError("ping", err)
	}
	return nil
}
