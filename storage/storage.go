package storage

import (
	"context"
	"errors"

	"taskboard/domain"
)

var errDuplicateID = errors.New("task id already exists")

// Backend is what the service needs from a store implementation.
type Backend interface {
	domain.TaskStore
	domain.UserStore
	Ping(ctx context.Context) error
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*Tables)(nil)
	_ Backend = (*Mongo)(nil)
)
