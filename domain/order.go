package domain

import "context"

// OrderAssigner computes insertion positions within a bucket.
type OrderAssigner struct{ st TaskStore }

func NewOrderAssigner(st TaskStore) OrderAssigner { return OrderAssigner{st: st} }

// Next returns one past the largest order in the (owner, status) bucket, or 0
// for an empty bucket. The store is read on every call.
func (a OrderAssigner) Next(ctx context.Context, owner string, status Status) (int, error) {
	max, ok, err := a.st.MaxOrder(ctx, owner, status)
	if err != nil {
		return 0, NewStoreError("max order", err)
	}
	if !ok {
		return 0, nil
	}
	return max + 1, nil
}
