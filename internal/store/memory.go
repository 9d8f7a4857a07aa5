package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. TTLs are
// honored lazily on read.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryValue
	queues map[string][]string
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	notify chan struct{}
}

type memoryValue struct {
	data      string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryValue),
		queues: make(map[string][]string),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		notify: make(chan struct{}, 1),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", false, nil
	}
	if !v.expiresAt.IsZero() && time.Now().After(v.expiresAt) {
		delete(m.values, key)
		return "", false, nil
	}
	return v.data, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{data: value}
	return nil
}

func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{data: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		if v.expiresAt.IsZero() || time.Now().Before(v.expiresAt) {
			return false, nil
		}
	}
	mv := memoryValue{data: value}
	if ttl > 0 {
		mv.expiresAt = time.Now().Add(ttl)
	}
	m.values[key] = mv
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Push(_ context.Context, queue, value string) error {
	m.mu.Lock()
	m.queues[queue] = append(m.queues[queue], value)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		items := m.queues[queue]
		if len(items) > 0 {
			head := items[0]
			m.queues[queue] = items[1:]
			m.mu.Unlock()
			return head, true, nil
		}
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		wait := 10 * time.Millisecond
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		case <-m.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Memory) SetAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) SortedSetAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zset, ok := m.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		m.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (m *Memory) SortedSetRangeDesc(_ context.Context, key string, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	zset := m.zsets[key]
	type entry struct {
		member string
		score  float64
	}
	entries := make([]entry, 0, len(zset))
	for member, score := range zset {
		entries = append(entries, entry{member: member, score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score == entries[j].score {
			return entries[i].member > entries[j].member
		}
		return entries[i].score > entries[j].score
	})
	if limit > 0 && int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	members := make([]string, 0, len(entries))
	for _, e := range entries {
		members = append(members, e.member)
	}
	return members, nil
}

func (m *Memory) Close() error {
	return nil
}
