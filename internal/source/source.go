package source

import (
	"context"
	"database/sql"
	"errors"

	"github.com/angeloszaimis/dbfailover/config"
)

var (
	// ErrCredentialsUnsupported is returned by ConnAs when the driver cannot
	// open connections under credentials other than the configured ones.
	ErrCredentialsUnsupported = errors.New("driver does not support per-connection credentials")

	// ErrUnsupportedDriver is returned by the factory for drivers that are not
	// registered with database/sql.
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrClosed is returned by a source after Close.
	ErrClosed = errors.New("connection source is closed")
)

// Source is a pooled connection source for one backend.
type Source interface {
	// Conn returns a connection from the pool using the configured credentials.
	Conn(ctx context.Context) (*sql.Conn, error)

	// ConnAs returns a connection authenticated with the given credentials.
	ConnAs(ctx context.Context, username, password string) (*sql.Conn, error)

	// PingContext verifies that the source can reach its database.
	PingContext(ctx context.Context) error

	// Close releases every pooled connection.
	Close() error
}

// Factory manufactures a new pooled connection source from configuration.
// It may be called many times over a backend's lifetime.
type Factory interface {
	Create(cfg config.DatasourceConfig) (Source, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(cfg config.DatasourceConfig) (Source, error)

func (f FactoryFunc) Create(cfg config.DatasourceConfig) (Source, error) {
	return f(cfg)
}
