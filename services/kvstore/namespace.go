package kvstore

import (
	"context"
	"strings"
)

type namespaced struct {
	inner  Store
	prefix string
}

// Namespace returns a view of s in which every key is prefixed with prefix + "/".
func Namespace(s Store, prefix string) Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return s
	}
	return &namespaced{inner: s, prefix: prefix + "/"}
}

func (n *namespaced) key(k string) string {
	return n.prefix + strings.TrimSpace(k)
}

func (n *namespaced) Get(ctx context.Context, key string, dst any) (bool, error) {
	if _, err := validateKey(key); err != nil {
		return false, err
	}
	return n.inner.Get(ctx, n.key(key), dst)
}

func (n *namespaced) Set(ctx context.Context, key string, value any) error {
	if _, err := validateKey(key); err != nil {
		return err
	}
	return n.inner.Set(ctx, n.key(key), value)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	if _, err := validateKey(key); err != nil {
		return err
	}
	return n.inner.Remove(ctx, n.key(key))
}

func (n *namespaced) Append(ctx context.Context, key string, value any, max int) error {
	if _, err := validateKey(key); err != nil {
		return err
	}
	return n.inner.Append(ctx, n.key(key), value, max)
}

// Close is a no-op: the namespace does not own the underlying store.
func (n *namespaced) Close() error { return nil }
