// Package auth provides user registration, login and token based access
// control for a JSON HTTP API.
//
// Accounts:
//   - Users are persisted through bun with a unique, lower cased email and a
//     bcrypt password hash that never leaves the store. Deactivated users
//     keep their record but can not log in or use previously issued tokens.
//   - Auther orchestrates the flows. It hashes passwords, signs HS256 tokens
//     through TokenService and emits activity events for auditing.
//
// Access:
//   - The jwtware middleware verifies bearer tokens and re-reads the user on
//     every request, so deactivation and deletion take effect immediately.
//   - RequireRoles gates routes by role after the user has been resolved.
//
// Activity sinks:
//   - ActivitySink receives register, login and status change events. Sinks
//     run best effort, errors are logged and never fail a request.
package auth
