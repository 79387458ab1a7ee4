package main

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"

	"taskboard/config"
	"taskboard/storage"
)

func TestParseRedisOptions(t *testing.T) {
	opts := parseRedisOptions("redis://:secret@cache:6380/2")
	if opts.Addr != "cache:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	opts = parseRedisOptions("example.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if opts.Addr != "example.redis.cache.windows.net:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.Password != "abc=" {
		t.Fatalf("unexpected password %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatal("ssl=true must enable TLS")
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("unexpected level %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", logger.Formatter)
	}
	if newLogger(config.LogConfig{Level: "bogus", Format: "text"}).GetLevel() != log.InfoLevel {
		t.Fatal("unknown level must fall back to info")
	}
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	st, closeFn, err := openStore(context.Background(), config.StoreConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*storage.Memory); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}
}
