// Package database provides connection pool management for the PostgreSQL
// archive of deleted and edited messages.
package database
