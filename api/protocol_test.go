package api

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

func TestDecodeOwnerForms(t *testing.T) {
	for _, data := range []string{`"ann"`, `{"owner":"ann"}`, ` "ann" `} {
		owner, err := decodeOwner([]byte(data))
		if err != nil || owner != "ann" {
			t.Fatalf("%s: got %q, %v", data, owner, err)
		}
	}
	if _, err := decodeOwner([]byte(`{"owner":"ann","extra":1}`)); domain.ErrorCode(err) != domain.CodeValidation {
		t.Fatalf("unknown fields must be rejected, got %v", err)
	}
}

func TestDecodeStrictRejectsMissingData(t *testing.T) {
	var p deletePayload
	for _, data := range []string{"", "null", "  "} {
		if err := decodeStrict([]byte(data), &p); domain.ErrorCode(err) != domain.CodeValidation {
			t.Fatalf("%q: expected validation error, got %v", data, err)
		}
	}
}

func TestAckHidesInternalDetails(t *testing.T) {
	ack := newAck("1", &domain.StoreError{Op: "insert task", Err: errors.New("dial tcp 10.0.0.1: refused")})
	if ack.OK || ack.Error.Code != domain.CodeStore || ack.Error.Message == "" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack.Error.Message == "store insert task: dial tcp 10.0.0.1: refused" {
		t.Fatal("store details must not reach clients")
	}
	if ack := newAck("2", errors.New("boom")); ack.Error.Code != domain.CodeInternal || ack.Error.Message != "internal error" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack := newAck("3", nil); !ack.OK || ack.Error != nil {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestRedisDeduper(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	d := NewRedisDeduper(rc, time.Hour)
	ctx := context.Background()
	if added, err := d.Add(ctx, "ann", "r1"); err != nil || !added {
		t.Fatalf("first add: %v %v", added, err)
	}
	if added, _ := d.Add(ctx, "ann", "r1"); added {
		t.Fatal("replay must not be added")
	}
	if added, _ := d.Add(ctx, "bob", "r1"); !added {
		t.Fatal("keys are scoped per owner")
	}
	if ttl := mr.TTL(d.key("ann", "r1")); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected TTL %v", ttl)
	}
	if err := d.Remove(ctx, "ann", "r1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := d.Add(ctx, "ann", "r1"); !added {
		t.Fatal("removed key must be addable again")
	}
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if added, _ := d.Add(ctx, "ann", "r1"); !added {
		t.Fatal("first add must succeed")
	}
	if added, _ := d.Add(ctx, "ann", "r1"); added {
		t.Fatal("replay must be rejected")
	}
	now = now.Add(2 * time.Minute)
	if added, _ := d.Add(ctx, "ann", "r1"); !added {
		t.Fatal("expired key must be addable again")
	}
}
