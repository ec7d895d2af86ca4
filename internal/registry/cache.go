// cache.go — LRU-кэш решённых сертификатов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package registry

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certledger/internal/domain/lifecycle"
	"github.com/bigkaa/certledger/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cl_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш сертификатов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cl_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша сертификатов.",
	})
)

// Cache — LRU-кэш сертификатов в конечном статусе.
// Запись в конечном статусе больше не меняется, поэтому кэш
// не может вернуть устаревший статус. Pending-записи не кэшируются.
type Cache struct {
	cache *expirable.LRU[model.Hash32, *model.Certificate]
}

// NewCache создаёт LRU-кэш с указанным максимальным размером и TTL.
// При maxSize <= 0 возвращает nil: кэширование отключено.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		return nil
	}
	cache := expirable.NewLRU[model.Hash32, *model.Certificate](maxSize, nil, ttl)
	return &Cache{cache: cache}
}

// Get возвращает копию сертификата из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *Cache) Get(fileHash model.Hash32) (*model.Certificate, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(fileHash)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Add кэширует копию сертификата, если он в конечном статусе.
func (c *Cache) Add(cert *model.Certificate) {
	if c == nil || !lifecycle.IsTerminal(cert.Status) {
		return
	}
	c.cache.Add(cert.FileHash, cert.Clone())
}

// Len возвращает количество записей в кэше.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
