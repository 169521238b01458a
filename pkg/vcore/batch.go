package vcore

import (
	"time"

	"github.com/vcore-db/vcore/pkg/storage"
)

// BatchInsert inserts every (id, vector, metadata) triple in order,
// returning a per-item success flag. A failure on one item (dimension
// mismatch, index rollback) does not block the rest of the batch.
func (c *Client) BatchInsert(ids []string, vectors [][]float64, metadatas []storage.Metadata) ([]bool, error) {
	start := time.Now()
	ok := make([]bool, len(ids))
	succeeded := 0
	for i, id := range ids {
		var meta storage.Metadata
		if i < len(metadatas) {
			meta = metadatas[i]
		}
		ok[i] = c.Insert(id, vectors[i], meta) == nil
		if ok[i] {
			succeeded++
		}
	}
	c.metrics.RecordBatchInsert(time.Since(start), succeeded)
	return ok, nil
}

// BatchSearch runs Search for every query, preserving input order.
func (c *Client) BatchSearch(queries [][]float64, k int) ([][]SearchResult, error) {
	hitSets, err := c.idx.BatchSearch(queries, k)
	if err != nil {
		return nil, err
	}

	out := make([][]SearchResult, len(hitSets))
	for i, hits := range hitSets {
		results := make([]SearchResult, 0, len(hits))
		for _, hit := range hits {
			_, meta, ok, err := c.store.Retrieve(hit.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				c.logger.Debug("skipped missing id during batch search materialization", map[string]interface{}{"id": hit.ID})
				continue
			}
			results = append(results, SearchResult{ID: hit.ID, Distance: hit.Distance, Metadata: meta})
		}
		out[i] = results
	}
	return out, nil
}

// BatchUpdate updates every id's vector under one index write lock,
// returning a per-item existence flag.
func (c *Client) BatchUpdate(ids []string, vectors [][]float64) ([]bool, error) {
	for _, v := range vectors {
		if err := c.checkDimension(v); err != nil {
			return nil, err
		}
	}

	storeOK := make([]bool, len(ids))
	for i, id := range ids {
		existed, err := c.store.Update(id, vectors[i], nil, true, false)
		if err != nil {
			return nil, err
		}
		storeOK[i] = existed
	}

	idxOK, err := c.idx.BatchUpdate(ids, vectors)
	if err != nil {
		return nil, err
	}

	result := make([]bool, len(ids))
	for i := range ids {
		result[i] = storeOK[i] && i < len(idxOK) && idxOK[i]
	}
	return result, nil
}

// BatchDelete deletes every id, returning a per-item flag that is true
// when the id existed in the index or in storage, as Delete reports it.
func (c *Client) BatchDelete(ids []string) ([]bool, error) {
	start := time.Now()
	result := make([]bool, len(ids))
	existedCount := 0
	for i, id := range ids {
		existed, err := c.Delete(id)
		if err != nil {
			return nil, err
		}
		result[i] = existed
		if existed {
			existedCount++
		}
	}
	c.metrics.RecordBatchDelete(time.Since(start), existedCount)
	return result, nil
}
