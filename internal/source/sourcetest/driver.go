// Package sourcetest provides an in-memory database/sql driver and a
// controllable connection factory for exercising the failover layer without
// a real database.
package sourcetest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/dbfailover/config"
)

// DriverName is the name the fake driver is registered under.
const DriverName = "failovertest"

var (
	// ErrServerDown is returned by every operation against a server that is down.
	ErrServerDown = errors.New("sourcetest: server is down")

	// ErrUnknownServer is returned when opening a DSN no Server was created for.
	ErrUnknownServer = errors.New("sourcetest: unknown server")

	// ErrBadStatement is returned for statements starting with FAIL.
	ErrBadStatement = errors.New("sourcetest: statement failed")
)

var (
	servers   sync.Map
	serverSeq atomic.Int64
)

func init() {
	sql.Register(DriverName, fakeDriver{})
}

// Server simulates one database server reachable through the fake driver.
type Server struct {
	dsn   string
	down  atomic.Bool
	opens atomic.Int64
	execs atomic.Int64

	mu            sync.Mutex
	lastStatement string
}

// NewServer registers a fresh server with a unique DSN.
func NewServer() *Server {
	s := &Server{dsn: fmt.Sprintf("server-%d", serverSeq.Add(1))}
	servers.Store(s.dsn, s)
	return s
}

func (s *Server) DSN() string {
	return s.dsn
}

// SetDown makes every open, exec and ping fail until the server is brought
// back up. Idle pooled connections are discarded on their next reuse.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

func (s *Server) IsDown() bool {
	return s.down.Load()
}

// Opens counts physical connections opened against the server.
func (s *Server) Opens() int64 {
	return s.opens.Load()
}

// Execs counts executed statements.
func (s *Server) Execs() int64 {
	return s.execs.Load()
}

func (s *Server) LastStatement() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatement
}

// Config returns a datasource configuration pointing at this server.
func (s *Server) Config(name string) config.DatasourceConfig {
	return config.DatasourceConfig{
		Name:        name,
		URL:         s.dsn,
		Username:    "tester",
		Password:    "secret",
		Driver:      DriverName,
		MaxPoolSize: 4,
	}
}

func (s *Server) exec(query string) error {
	if s.down.Load() {
		return ErrServerDown
	}

	s.execs.Add(1)
	s.mu.Lock()
	s.lastStatement = query
	s.mu.Unlock()

	if strings.HasPrefix(strings.TrimSpace(strings.ToUpper(query)), "FAIL") {
		return ErrBadStatement
	}

	return nil
}

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (driver.Conn, error) {
	value, ok := servers.Load(dsn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, dsn)
	}

	server := value.(*Server)
	if server.down.Load() {
		return nil, ErrServerDown
	}

	server.opens.Add(1)
	return &fakeConn{server: server}, nil
}

type fakeConn struct {
	server *Server
}

var (
	_ driver.ExecerContext      = (*fakeConn)(nil)
	_ driver.Pinger             = (*fakeConn)(nil)
	_ driver.SessionResetter    = (*fakeConn)(nil)
	_ driver.Validator          = (*fakeConn)(nil)
	_ driver.ConnBeginTx        = (*fakeConn)(nil)
	_ driver.ConnPrepareContext = (*fakeConn)(nil)
)

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	return c.Prepare(query)
}

func (c *fakeConn) Close() error {
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.server.down.Load() {
		return nil, ErrServerDown
	}
	return fakeTx{}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := c.server.exec(query); err != nil {
		return nil, err
	}
	return driver.RowsAffected(0), nil
}

func (c *fakeConn) Ping(context.Context) error {
	if c.server.down.Load() {
		return ErrServerDown
	}
	return nil
}

func (c *fakeConn) ResetSession(context.Context) error {
	if c.server.down.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *fakeConn) IsValid() bool {
	return !c.server.down.Load()
}

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error {
	return nil
}

func (s *fakeStmt) NumInput() int {
	return -1
}

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	if err := s.conn.server.exec(s.query); err != nil {
		return nil, err
	}
	return driver.RowsAffected(0), nil
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("sourcetest: queries are not supported")
}

type fakeTx struct{}

func (fakeTx) Commit() error {
	return nil
}

func (fakeTx) Rollback() error {
	return nil
}
