package sourcetest

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/dbfailover/config"
	"github.com/angeloszaimis/dbfailover/internal/source"
	"github.com/angeloszaimis/dbfailover/pkg/logger"
)

var (
	// ErrSourceBroken is returned by a Source after Break.
	ErrSourceBroken = errors.New("sourcetest: source is broken")

	// ErrCreateFailed is returned by Factory.Create while creates are failing.
	ErrCreateFailed = errors.New("sourcetest: create failed")
)

// Source wraps a real pooled source and lets tests break it independently of
// the server it points at.
type Source struct {
	source.Source

	broken   atomic.Bool
	closed   atomic.Bool
	closeErr error
}

// Break makes every subsequent operation on this source fail.
func (s *Source) Break() {
	s.broken.Store(true)
}

func (s *Source) IsBroken() bool {
	return s.broken.Load()
}

func (s *Source) IsClosed() bool {
	return s.closed.Load()
}

func (s *Source) Conn(ctx context.Context) (*sql.Conn, error) {
	if s.broken.Load() {
		return nil, ErrSourceBroken
	}
	return s.Source.Conn(ctx)
}

func (s *Source) ConnAs(ctx context.Context, username, password string) (*sql.Conn, error) {
	if s.broken.Load() {
		return nil, ErrSourceBroken
	}
	return s.Source.ConnAs(ctx, username, password)
}

func (s *Source) PingContext(ctx context.Context) error {
	if s.broken.Load() {
		return ErrSourceBroken
	}
	return s.Source.PingContext(ctx)
}

func (s *Source) Close() error {
	s.closed.Store(true)
	if err := s.Source.Close(); err != nil {
		return err
	}
	return s.closeErr
}

// Factory counts and records every source it creates, per datasource name.
type Factory struct {
	delegate source.Factory

	mu       sync.Mutex
	created  map[string][]*Source
	failing  map[string]bool
	closeErr map[string]error
	onCreate func(cfg config.DatasourceConfig)
}

// NewFactory returns a factory that opens real database/sql pools through
// source.SQLFactory.
func NewFactory() *Factory {
	return &Factory{
		delegate: source.NewSQLFactory(logger.Discard()),
		created:  make(map[string][]*Source),
		failing:  make(map[string]bool),
		closeErr: make(map[string]error),
	}
}

func (f *Factory) Create(cfg config.DatasourceConfig) (source.Source, error) {
	f.mu.Lock()
	hook := f.onCreate
	failing := f.failing[cfg.Name]
	closeErr := f.closeErr[cfg.Name]
	f.mu.Unlock()

	if hook != nil {
		hook(cfg)
	}

	if failing {
		return nil, ErrCreateFailed
	}

	inner, err := f.delegate.Create(cfg)
	if err != nil {
		return nil, err
	}

	src := &Source{Source: inner, closeErr: closeErr}

	f.mu.Lock()
	f.created[cfg.Name] = append(f.created[cfg.Name], src)
	f.mu.Unlock()

	return src, nil
}

// FailCreates toggles failure of Create for the named datasource.
func (f *Factory) FailCreates(name string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[name] = fail
}

// FailCloses makes sources created afterwards for name return err from Close.
func (f *Factory) FailCloses(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr[name] = err
}

// OnCreate installs a hook that runs at the start of every Create call.
func (f *Factory) OnCreate(hook func(cfg config.DatasourceConfig)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCreate = hook
}

// Creates returns how many sources were successfully created for name.
func (f *Factory) Creates(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[name])
}

// Sources returns every source created for name, oldest first.
func (f *Factory) Sources(name string) []*Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Source(nil), f.created[name]...)
}

// Latest returns the most recently created source for name, or nil.
func (f *Factory) Latest(name string) *Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := f.created[name]
	if len(created) == 0 {
		return nil
	}
	return created[len(created)-1]
}
