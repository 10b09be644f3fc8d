package coord

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	kvBucket   = "kv"
	hashBucket = "hash"
)

// Bolt is a file-backed Store for single-node deployments. Keys and hashes
// survive restarts; pub/sub stays in-process.
type Bolt struct {
	db  *bbolt.DB
	hub *hub
	now func() time.Time
}

var _ Store = (*Bolt)(nil)

func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("coord path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open coord db: %w", err)
	}
	b := &Bolt{db: db, hub: newHub(), now: time.Now}
	if err := b.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bolt) ensureBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{kvBucket, hashBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// kv values carry an 8 byte expiry prefix in unix nanos, 0 meaning none.
func encodeKV(value string, expires time.Time) []byte {
	buf := make([]byte, 8+len(value))
	if !expires.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(expires.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func decodeKV(raw []byte, now time.Time) (string, time.Time, bool) {
	if len(raw) < 8 {
		return "", time.Time{}, false
	}
	var expires time.Time
	if ns := binary.BigEndian.Uint64(raw); ns != 0 {
		expires = time.Unix(0, int64(ns))
		if !now.Before(expires) {
			return "", time.Time{}, false
		}
	}
	return string(raw[8:]), expires, true
}

func (b *Bolt) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var (
		value string
		ok    bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		value, _, ok = decodeKV(tx.Bucket([]byte(kvBucket)).Get([]byte(key)), b.now())
		return nil
	})
	return value, ok, err
}

func (b *Bolt) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var expires time.Time
	if ttl > 0 {
		expires = b.now().Add(ttl)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(kvBucket)).Put([]byte(key), encodeKV(value, expires))
	})
}

func (b *Bolt) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var (
		value string
		ok    bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		h := tx.Bucket([]byte(hashBucket)).Bucket([]byte(key))
		if h == nil {
			return nil
		}
		if raw := h.Get([]byte(field)); raw != nil {
			value, ok = string(raw), true
		}
		return nil
	})
	return value, ok, err
}

func (b *Bolt) HSet(ctx context.Context, key, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		h, err := tx.Bucket([]byte(hashBucket)).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("create hash %s: %w", key, err)
		}
		return h.Put([]byte(field), []byte(value))
	})
}

func (b *Bolt) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	err := b.db.View(func(tx *bbolt.Tx) error {
		h := tx.Bucket([]byte(hashBucket)).Bucket([]byte(key))
		if h == nil {
			return nil
		}
		return h.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		now := b.now()
		value, expires, ok := decodeKV(bucket.Get([]byte(key)), now)
		if ok {
			n, _ = strconv.ParseInt(value, 10, 64)
		} else if window > 0 {
			expires = now.Add(window)
		} else {
			expires = time.Time{}
		}
		n++
		return bucket.Put([]byte(key), encodeKV(strconv.FormatInt(n, 10), expires))
	})
	return n, err
}

func (b *Bolt) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.hub.publish(channel, payload)
}

func (b *Bolt) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub, err := b.hub.subscribe(channel)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *Bolt) Close() error {
	b.hub.close()
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
