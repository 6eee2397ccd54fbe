// Package migrations generates SQL migration files for the camera assignments
// table used by the SQL mapping store, for PostgreSQL, MySQL/MariaDB and SQLite.
//
// The generated DDL is the same the store applies through Migrate, so teams
// that manage schema with their own migration tool can check it in instead.
package migrations
