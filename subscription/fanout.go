package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// RedisFanout publishes view updates on a redis channel so every instance can
// deliver them to its own connections.
type RedisFanout struct {
	rc      *redis.Client
	channel string
	local   *Registry
	cache   *storage.ViewCache
	logger  *logrus.Logger
}

func NewRedisFanout(rc *redis.Client, channel string, local *Registry, cache *storage.ViewCache, logger *logrus.Logger) *RedisFanout {
	if rc == nil || local == nil {
		panic("subscription.NewRedisFanout: redis client and registry are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisFanout{rc: rc, channel: channel, local: local, cache: cache, logger: logger}
}

// Publish implements domain.Publisher. When redis is unreachable the update
// still reaches this instance's connections and the error is returned.
func (f *RedisFanout) Publish(ctx context.Context, upd domain.ViewUpdate) error {
	f.cache.Store(ctx, upd.Owner, upd.View)
	data, err := sonic.Marshal(upd)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if err := f.rc.Publish(ctx, f.channel, data).Err(); err != nil {
		if lerr := f.local.Publish(ctx, upd); lerr != nil {
			f.logger.WithError(lerr).Error("local delivery failed")
		}
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Run delivers updates received on the channel to the local registry until
// ctx is cancelled, resubscribing when the subscription drops.
func (f *RedisFanout) Run(ctx context.Context) {
	for {
		sub := f.rc.Subscribe(ctx, f.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				f.handle(ctx, msg.Payload)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.WithField("channel", f.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (f *RedisFanout) handle(ctx context.Context, payload string) {
	var upd domain.ViewUpdate
	if err := sonic.UnmarshalString(payload, &upd); err != nil {
		f.logger.WithError(err).Error("unable to parse view update")
		return
	}
	if upd.Owner == "" {
		f.logger.Warn("view update without owner ignored")
		return
	}
	if err := f.local.Publish(ctx, upd); err != nil {
		f.logger.WithError(err).WithField("owner", upd.Owner).Error("deliver view update")
	}
}
