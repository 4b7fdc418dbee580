// Package testutil provides testing utilities and test fixtures for the
// plugin-oauth library. It includes helpers for creating test entities,
// assertions, and PKCE material for deterministic testing.
package testutil
