// Package config resolves connection settings from cascading sources.
//
// Every setting is looked up under dotted keys of the form
//
//	strata.connection.<name>[.<url>|.<kind>]
//
// most specific first: the per-URL override, then the per-dialect-kind
// override, then the global key, then the hardcoded default. Sources are
// the process environment (dots become underscores, upper-cased) and an
// optional YAML file that can be watched for live reload.
package config

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/pool"
)

// Namespace is the root segment of every lookup key.
const Namespace = "strata"

// Connection setting names under <namespace>.connection.
const (
	KeyMaxPool    = "maxPool"
	KeyMinPool    = "minPool"
	KeyAutoCommit = "autoCommit"
	KeyReadOnly   = "readOnly"
	KeyTimeout    = "timeout"
	KeyIsolation  = "isolation"
	KeyPerThread  = "perThread"
)

// A Source answers dotted-key lookups.
type Source interface {
	Lookup(key string) (string, bool)
}

// Env reads keys from the process environment: "strata.connection.maxPool"
// becomes "STRATA_CONNECTION_MAXPOOL".
type Env struct{}

// Lookup implements Source.
func (Env) Lookup(key string) (string, bool) {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_", "/", "_", ":", "_").Replace(key))
	return os.LookupEnv(name)
}

// Chain consults sources in order, first hit wins.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(key string) (string, bool) {
	for _, s := range c {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// File is a YAML-backed source. Nested mappings flatten into dotted keys.
type File struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	values map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadFile reads a YAML config file into a Source.
func LoadFile(path string) (*File, error) {
	f := &File{path: path, log: slog.Default()}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("strata: config: read %q: %w", f.path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("strata: config: parse %q: %w", f.path, err)
	}
	values := make(map[string]string)
	flatten("", doc, values)
	f.mu.Lock()
	f.values = values
	f.mu.Unlock()
	return nil
}

func flatten(prefix string, node map[string]any, into map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flatten(key, child, into)
		case nil:
		default:
			into[key] = fmt.Sprint(child)
		}
	}
}

// Lookup implements Source.
func (f *File) Lookup(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

// Watch re-reads the file whenever it changes on disk. Stop with Close.
func (f *File) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("strata: config: watch %q: %w", f.path, err)
	}
	if err := w.Add(f.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("strata: config: watch %q: %w", f.path, err)
	}
	f.watcher = w
	f.done = make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					if err := f.reload(); err != nil {
						f.log.Warn("config: reload failed", "path", f.path, "error", err)
					} else {
						f.log.Debug("config: reloaded", "path", f.path)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.log.Warn("config: watch error", "path", f.path, "error", err)
			case <-f.done:
				return
			}
		}
	}()
	return nil
}

// Close stops watching, if watching.
func (f *File) Close() error {
	if f.watcher == nil {
		return nil
	}
	close(f.done)
	return f.watcher.Close()
}

// lookup cascades: per-URL override, per-kind override, global key.
func lookup(src Source, name, url, kind string) (string, bool) {
	base := Namespace + ".connection." + name
	if url != "" {
		if v, ok := src.Lookup(base + "." + url); ok {
			return v, true
		}
	}
	if kind != "" {
		if v, ok := src.Lookup(base + "." + kind); ok {
			return v, true
		}
	}
	return src.Lookup(base)
}

// ResolvePool resolves the pool options for a backend URL of the given
// dialect kind. A nil source yields the hardcoded defaults.
func ResolvePool(src Source, url, kind string) pool.Options {
	opts := pool.Options{
		MaxPool:    pool.DefaultMaxPool,
		AutoCommit: true,
		Timeout:    pool.DefaultTimeout,
	}
	if src == nil {
		return opts
	}
	if v, ok := lookup(src, KeyMaxPool, url, kind); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxPool = n
		}
	}
	if v, ok := lookup(src, KeyMinPool, url, kind); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.MinPool = n
		}
	}
	if v, ok := lookup(src, KeyAutoCommit, url, kind); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.AutoCommit = b
		}
	}
	if v, ok := lookup(src, KeyReadOnly, url, kind); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.ReadOnly = b
		}
	}
	if v, ok := lookup(src, KeyTimeout, url, kind); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			opts.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := lookup(src, KeyIsolation, url, kind); ok {
		opts.Isolation = parseIsolation(v)
	}
	if v, ok := lookup(src, KeyPerThread, url, kind); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Pinned = b
		}
	}
	return opts
}

func parseIsolation(v string) sql.IsolationLevel {
	switch strings.ToLower(strings.ReplaceAll(v, "_", "-")) {
	case "read-uncommitted":
		return sql.LevelReadUncommitted
	case "read-committed":
		return sql.LevelReadCommitted
	case "repeatable-read":
		return sql.LevelRepeatableRead
	case "snapshot":
		return sql.LevelSnapshot
	case "serializable":
		return sql.LevelSerializable
	case "linearizable":
		return sql.LevelLinearizable
	}
	return sql.LevelDefault
}
