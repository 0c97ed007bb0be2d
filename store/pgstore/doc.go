// Package pgstore implements twofactor.Store on PostgreSQL with pgx.
//
// The schema ships as embedded goose migrations; call Migrate once at
// startup. Backup code consumption is a single conditional
// UPDATE ... WHERE used_at IS NULL, so concurrent consumers of one code see
// exactly one success.
package pgstore
