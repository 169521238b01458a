package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	t.Run("NewMetrics", func(t *testing.T) {
		if m == nil {
			t.Fatal("NewMetrics returned nil")
		}
		if m.RequestsTotal == nil {
			t.Error("RequestsTotal not initialized")
		}
		if m.RequestDuration == nil {
			t.Error("RequestDuration not initialized")
		}
		if m.VectorsInserted == nil {
			t.Error("VectorsInserted not initialized")
		}
		if m.CacheHits == nil {
			t.Error("CacheHits not initialized")
		}
	})

	t.Run("RecordRequest", func(t *testing.T) {
		methods := []string{"insert", "search", "delete", "update"}
		statuses := []string{"ok", "error"}
		for _, method := range methods {
			for _, status := range statuses {
				m.RecordRequest(method, status, 100*time.Millisecond)
			}
		}
	})

	t.Run("RecordError", func(t *testing.T) {
		m.RecordError("insert", "InvalidVector")
		m.RecordError("search", "DimensionMismatch")
		m.RecordError("delete", "NotFound")
	})

	t.Run("RecordInsert", func(t *testing.T) {
		m.RecordInsert(1)
		for i := 0; i < 100; i++ {
			m.RecordInsert(1)
		}
	})

	t.Run("RecordDelete", func(t *testing.T) {
		m.RecordDelete(1)
		for i := 0; i < 50; i++ {
			m.RecordDelete(1)
		}
	})

	t.Run("RecordUpdate", func(t *testing.T) {
		m.RecordUpdate(1)
		for i := 0; i < 75; i++ {
			m.RecordUpdate(1)
		}
	})

	t.Run("RecordSearch", func(t *testing.T) {
		m.RecordSearch(50*time.Millisecond, 10)
		m.RecordSearch(100*time.Millisecond, 25)
		for i := 1; i <= 100; i += 10 {
			m.RecordSearch(time.Millisecond*time.Duration(i), i)
		}
	})

	t.Run("UpdateIndexSize", func(t *testing.T) {
		m.UpdateIndexSize("default", 1000)
		m.UpdateIndexSize("default", 1500)
	})

	t.Run("CacheObserverMethods", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			m.RecordCacheHit()
		}
		for i := 0; i < 50; i++ {
			m.RecordCacheMiss()
		}
		m.UpdateCacheSize(100)
		m.UpdateCacheSize(500)
	})

	t.Run("RecordBatchInsert", func(t *testing.T) {
		m.RecordBatchInsert(500*time.Millisecond, 100)
		m.RecordBatchInsert(5*time.Second, 1000)
	})

	t.Run("RecordBatchDelete", func(t *testing.T) {
		m.RecordBatchDelete(200*time.Millisecond, 50)
		m.RecordBatchDelete(2*time.Second, 500)
	})
}

func TestMetrics_SatisfiesCacheObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	var _ interface {
		RecordCacheHit()
		RecordCacheMiss()
		UpdateCacheSize(int)
	} = m
}
