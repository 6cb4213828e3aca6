// Package postgres is the PostgreSQL backend for the task store. It opens
// connections through the pgx stdlib driver, supplies the sqlstore dialect
// and maps pgconn errors onto store sentinels.
package postgres
