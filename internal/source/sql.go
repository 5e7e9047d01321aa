package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/angeloszaimis/dbfailover/config"
)

// SQLFactory opens database/sql pools. Postgres (pgx) and MySQL URLs are
// parsed so the configured username and password override whatever the URL
// carries; every other registered driver receives the URL verbatim.
type SQLFactory struct {
	logger *slog.Logger
}

func NewSQLFactory(logger *slog.Logger) *SQLFactory {
	return &SQLFactory{logger: logger}
}

// Create opens a new pool for cfg. No connection is established until the
// pool is first used.
func (f *SQLFactory) Create(cfg config.DatasourceConfig) (Source, error) {
	db, err := openDB(cfg, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("open datasource %s: %w", cfg.Name, err)
	}

	f.logger.Debug("Opened connection pool",
		slog.String("backend", cfg.Name),
		slog.String("driver", cfg.DriverName()),
		slog.Int("max_pool_size", cfg.MaxPoolSize))

	return &SQLSource{
		db:     db,
		cfg:    cfg,
		byUser: make(map[credentials]*sql.DB),
	}, nil
}

type credentials struct {
	username string
	password string
}

// SQLSource is a Source backed by *sql.DB. Connections requested under
// foreign credentials are served from secondary pools, one per credential
// pair, opened lazily and closed together with the source.
type SQLSource struct {
	db  *sql.DB
	cfg config.DatasourceConfig

	mu     sync.Mutex
	byUser map[credentials]*sql.DB
	closed bool
}

// DB exposes the primary pool.
func (s *SQLSource) DB() *sql.DB {
	return s.db
}

func (s *SQLSource) Conn(ctx context.Context) (*sql.Conn, error) {
	return s.db.Conn(ctx)
}

func (s *SQLSource) ConnAs(ctx context.Context, username, password string) (*sql.Conn, error) {
	if username == s.cfg.Username && password == s.cfg.Password {
		return s.db.Conn(ctx)
	}

	db, err := s.poolFor(credentials{username: username, password: password})
	if err != nil {
		return nil, err
	}

	return db.Conn(ctx)
}

func (s *SQLSource) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pools := s.byUser
	s.byUser = nil
	s.mu.Unlock()

	errs := []error{s.db.Close()}
	for _, db := range pools {
		errs = append(errs, db.Close())
	}

	return errors.Join(errs...)
}

func (s *SQLSource) poolFor(creds credentials) (*sql.DB, error) {
	if !supportsCredentials(s.cfg.DriverName()) {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsUnsupported, s.cfg.DriverName())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if db, ok := s.byUser[creds]; ok {
		return db, nil
	}

	db, err := openDB(s.cfg, creds.username, creds.password)
	if err != nil {
		return nil, err
	}
	s.byUser[creds] = db

	return db, nil
}

func supportsCredentials(driver string) bool {
	switch driver {
	case "pgx", "postgres", "postgresql", "mysql":
		return true
	default:
		return false
	}
}

func openDB(cfg config.DatasourceConfig, username, password string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch driver := cfg.DriverName(); driver {
	case "pgx", "postgres", "postgresql":
		db, err = openPostgres(cfg.URL, username, password)
	case "mysql":
		db, err = openMySQL(cfg.URL, username, password)
	default:
		if !slices.Contains(sql.Drivers(), driver) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
		}
		db, err = sql.Open(driver, cfg.URL)
	}
	if err != nil {
		return nil, err
	}

	applyPoolSettings(db, cfg)
	return db, nil
}

func openPostgres(url, username, password string) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	connConfig.User = username
	connConfig.Password = password

	return stdlib.OpenDB(*connConfig), nil
}

func openMySQL(dsn, username, password string) (*sql.DB, error) {
	mysqlConfig, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}

	mysqlConfig.User = username
	mysqlConfig.Passwd = password

	connector, err := mysql.NewConnector(mysqlConfig)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	return sql.OpenDB(connector), nil
}

func applyPoolSettings(db *sql.DB, cfg config.DatasourceConfig) {
	db.SetMaxOpenConns(cfg.MaxPoolSize)

	idle := cfg.MaxIdleConns
	if idle <= 0 || idle > cfg.MaxPoolSize {
		idle = cfg.MaxPoolSize
	}
	db.SetMaxIdleConns(idle)

	if lifetime := cfg.ConnMaxLifetimeDuration(); lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	}
}
