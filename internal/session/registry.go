package session

import (
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/registry"
	"context"
	"sort"
	"sync"
)

var (
	ErrAlreadyRecording = errors.WithCode(errors.CodeInvalidState, "already recording")
	ErrNotRecording     = errors.WithCode(errors.CodeInvalidState, "not recording")
)

// Registry maps a guild (or any caller-chosen key) to its active Manager.
// At most one session runs per key.
type Registry struct {
	opts     Options
	managers *registry.Registry[string, *Manager]
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, managers: registry.New[string, *Manager]()}
}

// Start begins a session for key. The channel's GuildID defaults to key.
func (r *Registry) Start(ctx context.Context, key string, ch Channel, title string) (*Manager, *Session, error) {
	if ch.GuildID == "" {
		ch.GuildID = key
	}
	mgr := NewManager(r.opts)
	if !r.managers.SetIfAbsent(key, mgr) {
		return nil, nil, ErrAlreadyRecording.WithContext("key", key)
	}
	sess, err := mgr.Start(ctx, ch, title)
	if err != nil {
		r.managers.Delete(key)
		return nil, nil, err
	}
	return mgr, sess, nil
}

func (r *Registry) Get(key string) (*Manager, bool) {
	return r.managers.Get(key)
}

// Stop ends and forgets the session for key.
func (r *Registry) Stop(ctx context.Context, key string) (*Metadata, error) {
	mgr, ok := r.managers.Get(key)
	if !ok {
		return nil, ErrNotRecording.WithContext("key", key)
	}
	defer r.managers.Delete(key)
	return mgr.Stop(ctx)
}

// StopAll stops every session concurrently, e.g. on shutdown.
func (r *Registry) StopAll(ctx context.Context) map[string]error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	for key := range r.managers.Snapshot() {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, err := r.Stop(ctx, key); err != nil {
				mu.Lock()
				errs[key] = err
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()
	return errs
}

// Keys lists the keys with an active session, sorted.
func (r *Registry) Keys() []string {
	snap := r.managers.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Len() int { return r.managers.Len() }
