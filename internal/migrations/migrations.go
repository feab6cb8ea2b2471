// Package migrations contains the PocketBase Go migration that creates
// sshgate's audit_logs collection.
//
// The migration file uses init() to register with the PocketBase migration
// runner. This package must be blank-imported in main.go:
//
//	_ "github.com/fabber/sshgate/internal/migrations"
package migrations
