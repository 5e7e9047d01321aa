package healthcheck

import (
	"context"
	"strings"
	"time"

	"github.com/angeloszaimis/dbfailover/internal/source"
)

// DefaultStatement is executed when a backend configures no validation query.
const DefaultStatement = "SELECT 1"

// Probe decides whether a connection source is currently usable. Any failure
// is reported as false; implementations never return errors or panic.
type Probe interface {
	IsHealthy(ctx context.Context, src source.Source, statement string) bool
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, src source.Source, statement string) bool

func (f ProbeFunc) IsHealthy(ctx context.Context, src source.Source, statement string) bool {
	return f(ctx, src, statement)
}

// StatementProbe borrows a connection and executes the validation statement.
type StatementProbe struct{}

func NewStatementProbe() StatementProbe {
	return StatementProbe{}
}

func (StatementProbe) IsHealthy(ctx context.Context, src source.Source, statement string) bool {
	if src == nil {
		return false
	}

	if strings.TrimSpace(statement) == "" {
		statement = DefaultStatement
	}

	conn, err := src.Conn(ctx)
	if err != nil {
		return false
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, statement)
	return err == nil
}

// PingProbe asks the driver to verify the connection without running a
// statement. The statement argument is ignored.
type PingProbe struct{}

func NewPingProbe() PingProbe {
	return PingProbe{}
}

func (PingProbe) IsHealthy(ctx context.Context, src source.Source, _ string) bool {
	if src == nil {
		return false
	}
	return src.PingContext(ctx) == nil
}

// WithTimeout bounds every probe by d. A non-positive d returns p unchanged.
func WithTimeout(p Probe, d time.Duration) Probe {
	if d <= 0 {
		return p
	}

	return ProbeFunc(func(ctx context.Context, src source.Source, statement string) bool {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return p.IsHealthy(ctx, src, statement)
	})
}

// Recovering turns a panic inside p into an unhealthy result.
func Recovering(p Probe) Probe {
	return ProbeFunc(func(ctx context.Context, src source.Source, statement string) (healthy bool) {
		defer func() {
			if recover() != nil {
				healthy = false
			}
		}()
		return p.IsHealthy(ctx, src, statement)
	})
}
