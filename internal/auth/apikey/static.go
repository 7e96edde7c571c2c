package apikey

import (
	"context"
	"time"
)

// StaticStore serves a fixed set of keys loaded at startup.
type StaticStore struct {
	keys map[string]KeyInfo // by hash
}

// NewStaticStore builds a store from raw key -> caller name pairs.
func NewStaticStore(keys map[string]string) *StaticStore {
	s := &StaticStore{keys: make(map[string]KeyInfo, len(keys))}
	created := time.Now()
	for raw, name := range keys {
		if raw == "" {
			continue
		}
		hash := HashKey(raw)
		s.keys[hash] = KeyInfo{
			ID:        hash[:16],
			Name:      name,
			IsActive:  true,
			CreatedAt: created,
		}
	}
	return s
}

func (s *StaticStore) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	info, ok := s.keys[HashKey(rawKey)]
	if !ok {
		return nil, ErrInvalidKey
	}
	return &info, nil
}

func (s *StaticStore) Len() int { return len(s.keys) }
