// Package gormstore implements the goIdP store contracts on top of gorm.
//
// Schemas are managed by goose migrations embedded in the package, one set
// per dialect (SQLite and PostgreSQL). Optimistic concurrency is a
// conditional UPDATE on the version column; the signature counter is a
// conditional UPDATE on the counter itself.
package gormstore
