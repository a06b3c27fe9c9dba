package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"tripflow/internal/config"
	"tripflow/internal/modules/location"
	"tripflow/internal/modules/trip"
)

func TestOpenBackends_Memory(t *testing.T) {
	var cfg config.Config
	cfg.Store.Backend = config.BackendMemory
	cfg.Geo.Backend = config.BackendMemory

	b, err := OpenBackends(context.Background(), cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	if _, ok := b.Store.(*trip.MemoryStore); !ok {
		t.Errorf("store = %T", b.Store)
	}
	if _, ok := b.Index.(*location.MemoryIndex); !ok {
		t.Errorf("index = %T", b.Index)
	}
	if b.History != nil || b.Transitions != nil {
		t.Errorf("history should be disabled without a DSN, got %T", b.History)
	}
}

func TestOpenBackends_FirebaseWithoutClient(t *testing.T) {
	var cfg config.Config
	cfg.Store.Backend = config.BackendFirebase
	cfg.Geo.Backend = config.BackendMemory

	_, err := OpenBackends(context.Background(), cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "realtime database") {
		t.Fatalf("expected missing client error, got %v", err)
	}
}
