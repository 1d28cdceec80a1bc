// Пакет session — in-memory хранилище сессий ops-консоли.
// Сессия живёт, пока оператор активен: каждый успешный Verify
// продлевает её на TTL (скользящее окно неактивности).
// Хранилище процессное, при рестарте сессии теряются.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store — хранилище сессий операторов поверх LRU-кэша с TTL.
type Store struct {
	cache *expirable.LRU[string, time.Time]
	ttl   time.Duration
}

// NewStore создаёт хранилище сессий. ttl — окно неактивности,
// maxSessions — верхняя граница одновременных сессий.
func NewStore(ttl time.Duration, maxSessions int) *Store {
	return &Store{
		cache: expirable.NewLRU[string, time.Time](maxSessions, nil, ttl),
		ttl:   ttl,
	}
}

// Create выдаёт новый токен сессии (32 случайных байта, base64url).
func (s *Store) Create() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("ошибка генерации токена сессии: %w", err)
	}

	token := base64.URLEncoding.EncodeToString(raw)
	s.cache.Add(token, time.Now())
	return token, nil
}

// Verify проверяет токен сессии и при успехе продлевает её на TTL.
func (s *Store) Verify(token string) bool {
	if _, ok := s.cache.Get(token); !ok {
		return false
	}
	// Повторный Add сбрасывает TTL записи — скользящее окно
	s.cache.Add(token, time.Now())
	return true
}

// Invalidate немедленно удаляет сессию (logout).
func (s *Store) Invalidate(token string) {
	s.cache.Remove(token)
}

// Count возвращает число живых сессий.
func (s *Store) Count() int {
	return s.cache.Len()
}
