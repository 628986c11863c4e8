package dache

import (
	"context"

	"github.com/menismu/dache/bucket"
	"github.com/menismu/dache/hostconn"
)

// TryGet fetches a single key and deserializes it into T. The bool is
// false if the key was absent or deserialization failed (logged, not
// surfaced as an error). Methods can't carry type parameters in Go, so
// this and the other typed operations are free functions taking the
// Client as their first argument, following the generic-helper
// convention for client libraries whose wire format is untyped bytes.
func TryGet[T any](ctx context.Context, c *Client, key string) (T, bool, error) {
	var zero T
	if key == "" {
		return zero, false, argError("key", "must not be blank")
	}

	var out T
	var found bool
	err := retryLoop(ctx, "get", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return c.lookup(key)
	}, func(b *bucket.Bucket[hostconn.Conn]) error {
		conn, ok := b.Next()
		if !ok {
			return errNoMember
		}
		raw, err := conn.Get(ctx, []string{key})
		if err != nil {
			return err
		}
		if len(raw) == 0 || raw[0] == nil {
			found = false
			return nil
		}
		if err := c.serializer.Unmarshal(raw[0], &out); err != nil {
			c.log.Warn("deserialization failed", "key", key, "err", err.Error())
			found = false
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return zero, false, err
	}
	if !found {
		return zero, false, nil
	}
	return out, true, nil
}

// Get fetches a batch of keys, grouping them by target Bucket and
// issuing one RPC per Bucket per attempt. Results are returned in the
// same order as keys; a key that failed to deserialize becomes T's
// zero value (logged, not an error).
func Get[T any](ctx context.Context, c *Client, keys []string) ([]T, error) {
	if len(keys) == 0 {
		return nil, argError("keys", "must not be empty")
	}

	out := make([]T, len(keys))
	err := retryLoop(ctx, "get_batch", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return nil, 0, nil // grouping happens per-bucket below; lookup errors surface inside fn
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		groups, order, err := c.groupByBucket(keys)
		if err != nil {
			return err
		}
		for gi, group := range groups {
			b := group.bucket
			conn, ok := b.Next()
			if !ok {
				return errNoMember
			}
			raw, err := conn.Get(ctx, group.keys)
			if err != nil {
				return err
			}
			for li, idx := range order[gi] {
				if li >= len(raw) || raw[li] == nil {
					continue
				}
				if err := c.serializer.Unmarshal(raw[li], &out[idx]); err != nil {
					c.log.Warn("deserialization failed", "key", keys[idx], "err", err.Error())
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTagged fetches every item tagged tag whose key matches pattern
// ("*" if blank).
func GetTagged[T any](ctx context.Context, c *Client, tag, pattern string) ([]T, error) {
	if tag == "" {
		return nil, argError("tag", "must not be blank")
	}
	if pattern == "" {
		pattern = "*"
	}

	var out []T
	err := retryLoop(ctx, "get_tagged", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return c.lookup(tag)
	}, func(b *bucket.Bucket[hostconn.Conn]) error {
		conn, ok := b.Next()
		if !ok {
			return errNoMember
		}
		raw, err := conn.GetTagged(ctx, []string{tag}, pattern)
		if err != nil {
			return err
		}
		out = make([]T, len(raw))
		for i, r := range raw {
			if r == nil {
				continue
			}
			if err := c.serializer.Unmarshal(r, &out[i]); err != nil {
				c.log.Warn("deserialization failed", "tag", tag, "err", err.Error())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteOptions is the public alias of hostconn.WriteOptions; callers
// never construct a hostconn value directly.
type WriteOptions = hostconn.WriteOptions

// AddOrUpdate writes a single key/value pair, replicated across every
// member of the target Bucket. A serializer failure is fatal and
// surfaces as ErrSerialization; it is never retried.
func (c *Client) AddOrUpdate(ctx context.Context, key string, value any, opts WriteOptions) error {
	if key == "" {
		return argError("key", "must not be blank")
	}
	if value == nil {
		return argError("value", "must not be nil")
	}

	raw, err := c.serializer.Marshal(value)
	if err != nil {
		return &ErrSerialization{Key: key, Err: err}
	}

	routingString := opts.TagName
	if routingString == "" {
		routingString = key
	}

	return retryLoop(ctx, "add_or_update", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return c.lookup(routingString)
	}, func(b *bucket.Bucket[hostconn.Conn]) error {
		return b.ForAll(func(conn hostconn.Conn) error {
			return conn.AddOrUpdate(ctx, []hostconn.Item{{Key: key, Value: raw}}, opts)
		})
	})
}

// AddOrUpdateBatch writes many pairs, grouped per target Bucket. Pairs
// whose value fails to serialize are skipped and logged; the rest of
// the batch still proceeds (best-effort).
func (c *Client) AddOrUpdateBatch(ctx context.Context, items []Item, opts WriteOptions) error {
	if len(items) == 0 {
		return argError("items", "must not be empty")
	}

	type pending struct {
		key string
		raw []byte
		tag string
	}
	encoded := make([]pending, 0, len(items))
	for _, it := range items {
		raw, err := c.serializer.Marshal(it.Value)
		if err != nil {
			c.log.Warn("serialization failed, skipping item", "key", it.Key, "err", err.Error())
			continue
		}
		encoded = append(encoded, pending{key: it.Key, raw: raw, tag: it.Tag})
	}
	if len(encoded) == 0 {
		return nil
	}

	return retryLoop(ctx, "add_or_update_batch", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return nil, 0, nil
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		byBucket := map[int]*bucket.Bucket[hostconn.Conn]{}
		keysByBucket := map[int][]hostconn.Item{}
		for _, p := range encoded {
			routingString := p.tag
			if routingString == "" {
				routingString = p.key
			}
			b, idx, err := c.lookup(routingString)
			if err != nil {
				return err
			}
			byBucket[idx] = b
			keysByBucket[idx] = append(keysByBucket[idx], hostconn.Item{Key: p.key, Value: p.raw})
		}
		for idx, b := range byBucket {
			items := keysByBucket[idx]
			if err := b.ForAll(func(conn hostconn.Conn) error {
				return conn.AddOrUpdate(ctx, items, opts)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Item is a single key/value pair for a batch write, carrying its own
// optional tag so a mixed-tag batch can still be grouped per Bucket.
type Item struct {
	Key   string
	Value any
	Tag   string
}

// Remove deletes a single key from every member of its target Bucket.
func (c *Client) Remove(ctx context.Context, key string) error {
	if key == "" {
		return argError("key", "must not be blank")
	}
	return retryLoop(ctx, "remove", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return c.lookup(key)
	}, func(b *bucket.Bucket[hostconn.Conn]) error {
		return b.ForAll(func(conn hostconn.Conn) error {
			return conn.Remove(ctx, []string{key})
		})
	})
}

// RemoveBatch deletes many keys, grouped per target Bucket.
func (c *Client) RemoveBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return argError("keys", "must not be empty")
	}
	return retryLoop(ctx, "remove_batch", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return nil, 0, nil
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		byBucket := map[int]*bucket.Bucket[hostconn.Conn]{}
		keysByBucket := map[int][]string{}
		for _, key := range keys {
			b, idx, err := c.lookup(key)
			if err != nil {
				return err
			}
			byBucket[idx] = b
			keysByBucket[idx] = append(keysByBucket[idx], key)
		}
		for idx, b := range byBucket {
			ks := keysByBucket[idx]
			if err := b.ForAll(func(conn hostconn.Conn) error {
				return conn.Remove(ctx, ks)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveTagged removes every item tagged tag whose key matches pattern.
func (c *Client) RemoveTagged(ctx context.Context, tag, pattern string) error {
	if tag == "" {
		return argError("tag", "must not be blank")
	}
	if pattern == "" {
		pattern = "*"
	}
	return retryLoop(ctx, "remove_tagged", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return c.lookup(tag)
	}, func(b *bucket.Bucket[hostconn.Conn]) error {
		return b.ForAll(func(conn hostconn.Conn) error {
			return conn.RemoveTagged(ctx, []string{tag}, pattern)
		})
	})
}

// RemoveTaggedBatch removes items across several tags, grouped per
// target Bucket; all tags share one pattern.
func (c *Client) RemoveTaggedBatch(ctx context.Context, tags []string, pattern string) error {
	if len(tags) == 0 {
		return argError("tags", "must not be empty")
	}
	if pattern == "" {
		return argError("pattern", "must not be blank")
	}
	return retryLoop(ctx, "remove_tagged_batch", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return nil, 0, nil
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		byBucket := map[int]*bucket.Bucket[hostconn.Conn]{}
		tagsByBucket := map[int][]string{}
		for _, tag := range tags {
			b, idx, err := c.lookup(tag)
			if err != nil {
				return err
			}
			byBucket[idx] = b
			tagsByBucket[idx] = append(tagsByBucket[idx], tag)
		}
		for idx, b := range byBucket {
			ts := tagsByBucket[idx]
			if err := b.ForAll(func(conn hostconn.Conn) error {
				return conn.RemoveTagged(ctx, ts, pattern)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCacheKeys lists every key matching pattern across the whole fleet,
// skipping offline Buckets.
func (c *Client) GetCacheKeys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	var out []string
	err := retryLoop(ctx, "get_cache_keys", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		if c.table.Len() == 0 {
			return nil, -1, ErrNoCacheHostsAvailable
		}
		return nil, 0, nil
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		out = out[:0]
		for _, b := range c.table.Buckets() {
			conn, ok := b.Next()
			if !ok {
				continue
			}
			keys, err := conn.GetCacheKeys(ctx, pattern)
			if err != nil {
				return err
			}
			out = append(out, keys...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCacheKeysTagged lists keys matching pattern on the Bucket that tag
// routes to. The host call is GetCacheKeys(pattern), so the returned
// keys are not filtered by tag.
func (c *Client) GetCacheKeysTagged(ctx context.Context, tag, pattern string) ([]string, error) {
	if tag == "" || pattern == "" {
		return nil, argError("tag/pattern", "must not be blank")
	}
	var out []string
	err := retryLoop(ctx, "get_cache_keys_tagged", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return c.lookup(tag)
	}, func(b *bucket.Bucket[hostconn.Conn]) error {
		conn, ok := b.Next()
		if !ok {
			return errNoMember
		}
		keys, err := conn.GetCacheKeys(ctx, pattern)
		if err != nil {
			return err
		}
		out = keys
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCacheKeysTaggedBatch lists keys matching pattern across several
// tags, concatenating results; nil if the total is empty.
func (c *Client) GetCacheKeysTaggedBatch(ctx context.Context, tags []string, pattern string) ([]string, error) {
	if len(tags) == 0 {
		return nil, argError("tags", "must not be empty")
	}
	if pattern == "" {
		return nil, argError("pattern", "must not be blank")
	}
	var out []string
	err := retryLoop(ctx, "get_cache_keys_tagged_batch", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		return nil, 0, nil
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		out = out[:0]
		byBucket := map[int]*bucket.Bucket[hostconn.Conn]{}
		tagsByBucket := map[int][]string{}
		for _, tag := range tags {
			b, idx, err := c.lookup(tag)
			if err != nil {
				return err
			}
			byBucket[idx] = b
			tagsByBucket[idx] = append(tagsByBucket[idx], tag)
		}
		for idx, b := range byBucket {
			conn, ok := b.Next()
			if !ok {
				continue
			}
			keys, err := conn.GetCacheKeysTagged(ctx, tagsByBucket[idx], pattern)
			if err != nil {
				return err
			}
			out = append(out, keys...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Clear empties every Bucket across the whole fleet.
func (c *Client) Clear(ctx context.Context) error {
	return retryLoop(ctx, "clear", c.metrics, func() (*bucket.Bucket[hostconn.Conn], int, error) {
		if c.table.Len() == 0 {
			return nil, -1, ErrNoCacheHostsAvailable
		}
		return nil, 0, nil
	}, func(*bucket.Bucket[hostconn.Conn]) error {
		for _, b := range c.table.Buckets() {
			if err := b.ForAll(func(conn hostconn.Conn) error {
				return conn.Clear(ctx)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Shutdown stops discovery and disconnects every Host Connection held
// by any Bucket, online or offline, configured or discovered. It is
// synchronous and idempotent: a second call is a no-op beyond
// re-disconnecting already-closed connections, which TCPConnection
// tolerates.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.discover != nil {
		c.discover.TryStop()
	}
	for _, b := range c.table.Buckets() {
		online, offline := b.Snapshot()
		for _, conn := range append(online, offline...) {
			if err := conn.Disconnect(); err != nil {
				c.log.Warn("disconnect failed during shutdown", "host", conn.Endpoint().String(), "err", err.Error())
			}
		}
	}
	return nil
}

type bucketGroup struct {
	bucket *bucket.Bucket[hostconn.Conn]
	keys   []string
}

// groupByBucket partitions keys by target Bucket, preserving the
// original index of each key within its group so Get can reassemble
// results in caller order.
func (c *Client) groupByBucket(keys []string) ([]bucketGroup, [][]int, error) {
	byIdx := map[int]*bucketGroup{}
	order := map[int][]int{}
	var indices []int

	for i, key := range keys {
		b, idx, err := c.lookup(key)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := byIdx[idx]; !ok {
			byIdx[idx] = &bucketGroup{bucket: b}
			indices = append(indices, idx)
		}
		byIdx[idx].keys = append(byIdx[idx].keys, key)
		order[idx] = append(order[idx], i)
	}

	groups := make([]bucketGroup, len(indices))
	orderOut := make([][]int, len(indices))
	for gi, idx := range indices {
		groups[gi] = *byIdx[idx]
		orderOut[gi] = order[idx]
	}
	return groups, orderOut, nil
}
