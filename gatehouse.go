// Package gatehouse declares the domain types and service contracts of the
// request-processing pipeline: tenancy, rate limiting, response caching,
// permission evaluation and idempotent replay. Concrete stores and the HTTP
// pipeline live in subpackages.
package gatehouse
