package apikey

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/postgres"
)

func TestStaticStore(t *testing.T) {
	s := NewStaticStore(map[string]string{"demo-key-123": "demo", "other": "ops", "": "ignored"})
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	info, err := s.Validate(context.Background(), "demo-key-123")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if info.Name != "demo" || info.ID == "" || !info.IsActive {
		t.Errorf("info = %+v", info)
	}
	other, _ := s.Validate(context.Background(), "other")
	if other.ID == info.ID {
		t.Error("distinct keys share an id")
	}

	for _, raw := range []string{"", "demo-key-12", "DEMO-KEY-123"} {
		_, err := s.Validate(context.Background(), raw)
		if !errors.Is(err, ErrInvalidKey) || !errors.Is(err, apperrors.ErrUnauthorized) {
			t.Errorf("Validate(%q) err = %v, want ErrInvalidKey", raw, err)
		}
	}
}

func TestHashKey(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashKey("abc"); got != want {
		t.Errorf("HashKey = %s", got)
	}
	if a, b := GenerateRawKey(), GenerateRawKey(); len(a) != 64 || a == b {
		t.Errorf("GenerateRawKey produced %q, %q", a, b)
	}
}

func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	if os.Getenv("RAG_TEST_POSTGRES") == "" {
		t.Skip("RAG_TEST_POSTGRES not set")
	}
	cfg := config.Default().Postgres
	if host := os.Getenv("RAG_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	db, err := postgres.New(context.Background(), cfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStoreLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	raw, err := s.CreateKey(ctx, "integration", nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := s.Validate(ctx, raw)
	if err != nil || info.Name != "integration" {
		t.Fatalf("Validate = %+v, %v", info, err)
	}

	past := time.Now().Add(-time.Hour)
	expired, err := s.CreateKey(ctx, "expired", &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Validate(ctx, expired); !errors.Is(err, ErrExpiredKey) {
		t.Errorf("expired key err = %v", err)
	}

	if err := s.RevokeKey(ctx, raw); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Validate(ctx, raw); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked key err = %v", err)
	}
	s.RevokeKey(ctx, expired)
}
