package domain

import "context"

// Publisher delivers a recomposed view to subscribers.
type Publisher interface {
	Publish(ctx context.Context, upd ViewUpdate) error
}

// Broadcaster pushes the current view of an owner's board.
type Broadcaster interface {
	Broadcast(ctx context.Context, owner string) error
}

// SyncBroadcaster recomposes the owner's view and publishes it once per call.
type SyncBroadcaster struct {
	views ViewComposer
	pub   Publisher
}

func NewSyncBroadcaster(views ViewComposer, pub Publisher) SyncBroadcaster {
	return SyncBroadcaster{views: views, pub: pub}
}

func (b SyncBroadcaster) Broadcast(ctx context.Context, owner string) error {
	view, err := b.views.Compose(ctx, owner)
	if err != nil {
		return err
	}
	return b.pub.Publish(ctx, ViewUpdate{Owner: owner, View: view})
}
