package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Source hands out the current Settings snapshot. Callers must not cache the
// returned pointer across operations; a later call may return a newer one.
type Source interface {
	Get() *Settings
}

// StaticSource is a Source that never changes. Used by tests and tools.
type StaticSource struct {
	S Settings
}

func (s *StaticSource) Get() *Settings {
	cp := s.S
	return &cp
}

// RuntimeStore loads Settings from a YAML/JSON file and keeps them current by
// watching the file. A file that fails to parse or validate is ignored and the
// previous snapshot stays in effect.
type RuntimeStore struct {
	path   string
	logger *zap.Logger

	cur      atomic.Pointer[Settings]
	lastHash atomic.Uint64

	onChangeMu sync.Mutex
	onChange   []func(old, cur *Settings)
}

func NewRuntimeStore(path string, logger *zap.Logger) *RuntimeStore {
	return &RuntimeStore{path: path, logger: logger}
}

// Get returns the current snapshot; nil before Load succeeded.
func (s *RuntimeStore) Get() *Settings {
	return s.cur.Load()
}

// OnChange registers fn to run after each committed reload.
func (s *RuntimeStore) OnChange(fn func(old, cur *Settings)) {
	s.onChangeMu.Lock()
	s.onChange = append(s.onChange, fn)
	s.onChangeMu.Unlock()
}

// Load parses and validates the file and commits it.
func (s *RuntimeStore) Load() (*Settings, error) {
	st, err := s.Parse()
	if err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	s.commit(st)
	return st, nil
}

// Parse reads the settings file and applies environment fallbacks for the
// engine selector and the auto-download flag.
func (s *RuntimeStore) Parse() (*Settings, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(s.path, b)
	if err != nil {
		return nil, err
	}

	var st Settings
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid settings: trailing data")
		}
		return nil, err
	}

	if st.DownloadEngine == "" {
		st.DownloadEngine = os.Getenv("DOWNLOAD_ENGINE")
	}
	if st.AutoDownload == nil {
		if v := os.Getenv("AUTO_DOWNLOAD"); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				st.AutoDownload = &b
			}
		}
	}
	return &st, nil
}

func (s *RuntimeStore) commit(st *Settings) {
	old := s.cur.Swap(st)
	s.lastHash.Store(hashSettings(st))

	s.onChangeMu.Lock()
	fns := append([]func(old, cur *Settings){}, s.onChange...)
	s.onChangeMu.Unlock()
	for _, fn := range fns {
		fn(old, st)
	}
}

// reload is the debounced body of Watch.
func (s *RuntimeStore) reload() {
	st, err := s.Parse()
	if err != nil {
		s.logger.Warn("settings parse failed; keeping previous", zap.String("path", s.path), zap.Error(err))
		return
	}
	h := hashSettings(st)
	if h != 0 && h == s.lastHash.Load() {
		s.logger.Debug("settings unchanged; skipping", zap.String("path", s.path))
		return
	}
	if err := st.Validate(); err != nil {
		s.logger.Warn("settings rejected", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.commit(st)
	s.logger.Info("settings reloaded",
		zap.String("path", s.path),
		zap.String("download_engine", st.DownloadEngine),
		zap.Bool("auto_download", st.AutoDownloadEnabled()),
	)
}

// Watch blocks until ctx is cancelled, reloading the file whenever it changes.
// The directory is watched rather than the file so editors that replace the
// file via rename are picked up. A broken watcher is recreated with a
// jittered exponential backoff.
func (s *RuntimeStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
		debounceDelay      = 250 * time.Millisecond
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, s.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn("settings watch init failed", zap.String("dir", dir), zap.Error(err))
			if !sleep() {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			s.logger.Warn("settings watch add failed", zap.String("dir", dir), zap.Error(err))
			if !sleep() {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		s.logger.Info("settings watcher started", zap.String("path", s.path))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					debounce()
					continue
				}
				s.logger.Warn("settings watch error", zap.Error(err))
			}
		}

		_ = w.Close()
		s.logger.Warn("settings watcher stopped; restarting", zap.Duration("backoff", backoff))
		if !sleep() {
			return nil
		}
	}
}

func hashSettings(st *Settings) uint64 {
	if st == nil {
		return 0
	}
	b, err := json.Marshal(st)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
