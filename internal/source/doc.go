// Package source defines the pooled connection source that each backend owns
// and the factory that manufactures it from datasource configuration.
//
// SQLFactory is the production factory. It opens a database/sql pool sized
// from the configuration and understands three driver families:
//
//   - pgx / postgres: URL parsed with pgx, credentials overlaid
//   - mysql: DSN parsed with go-sql-driver/mysql, credentials overlaid
//   - anything else registered with database/sql (for example sqlite3):
//     URL passed through untouched
//
// Drivers must be registered by the importing program.
package source
