package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// debounceWindow coalesces the burst of fsnotify events some editors emit
// for a single save.
const debounceWindow = 100 * time.Millisecond

// Store loads a typed configuration from a file and keeps it current while
// the file changes on disk.
type Store[T any] struct {
	v        *viper.Viper
	value    *T
	mu       sync.RWMutex
	onChange []func(old, new T)
}

type Option[T any] func(*Store[T])

// WithDefaults seeds values used when the file omits a key.
func WithDefaults[T any](defaults map[string]any) Option[T] {
	return func(s *Store[T]) {
		for k, v := range defaults {
			s.v.SetDefault(k, v)
		}
	}
}

// WithEnv binds environment variables with the given prefix; dots in keys
// map to underscores (server.addr -> PREFIX_SERVER_ADDR).
func WithEnv[T any](prefix string) Option[T] {
	return func(s *Store[T]) {
		s.v.SetEnvPrefix(prefix)
		s.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		s.v.AutomaticEnv()
	}
}

// Load reads the file at path and starts watching it for changes.
func Load[T any](path string, opts ...Option[T]) (*Store[T], error) {
	v := viper.New()
	v.SetConfigFile(path)

	s := &Store[T]{v: v}
	for _, opt := range opts {
		opt(s)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var val T
	if err := v.Unmarshal(&val); err != nil {
		return nil, err
	}
	s.value = &val

	s.watch()
	return s, nil
}

// Get returns a deep copy of the current value, safe to mutate.
func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(*s.value)
}

// OnChange registers a callback invoked after the file is successfully
// reloaded with a different value. Callbacks run sequentially; a panic in
// one does not stop the others.
func (s *Store[T]) OnChange(callback func(old, new T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, callback)
}

func (s *Store[T]) watch() {
	var (
		timer   *time.Timer
		timerMu sync.Mutex
	)
	s.v.OnConfigChange(func(_ fsnotify.Event) {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceWindow, s.reload)
		timerMu.Unlock()
	})
	s.v.WatchConfig()
}

func (s *Store[T]) reload() {
	old := s.Get()

	s.mu.Lock()
	// A half-written file fails to parse; keep the previous value.
	if err := s.v.ReadInConfig(); err != nil {
		s.mu.Unlock()
		return
	}
	var val T
	if err := s.v.Unmarshal(&val); err != nil {
		s.mu.Unlock()
		return
	}
	s.value = &val
	callbacks := make([]func(old, new T), len(s.onChange))
	copy(callbacks, s.onChange)
	current := deepCopy(val)
	s.mu.Unlock()

	if reflect.DeepEqual(old, current) {
		return
	}
	for _, cb := range callbacks {
		func() {
			defer func() { _ = recover() }()
			cb(old, current)
		}()
	}
}

// deepCopy round-trips through JSON so callers can never alias the stored
// value.
func deepCopy[T any](src T) T {
	var dst T
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}
