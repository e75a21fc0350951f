// Package postgres owns the PostgreSQL and Redis connections used by the
// authorization pipeline and the schema its stores read.
//
// Migrate creates tenants, profiles, roles, permissions, their join tables,
// plans, subscriptions and the counted tenant resources (leads, contacts,
// accounts). Applied versions are tracked in schema_migrations so Migrate
// is safe to run on every start.
package postgres
