// Package api serves the /api/v1 admin and operations endpoints: health,
// cached runtime stats, the live route table, dry-run routing validation,
// manual event injection, and incident acknowledgment/resolution.
//
// The API is unauthenticated; put it behind a reverse proxy that applies
// access control.
package api
