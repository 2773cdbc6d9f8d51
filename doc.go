// Package auth provides the authentication session core of the budgeting
// application: a Provider port to the identity service, the SessionManager
// that owns the observable AuthState, the Client facade used by UI code, and
// the server side TokenVerifier.
//
// Layering:
//   - Provider is the only component doing network I/O against the identity
//     service. Every operation returns a Result envelope, never a bare error.
//   - SessionManager holds the single AuthState (idle, loading, authenticated,
//     unauthenticated) and notifies subscribers of every transition, in order
//     and exactly once.
//   - Client pairs each provider call with the matching session transition.
//     Logout always clears the local session, even when the remote call fails.
//   - Container wires the three together once per deployment target.
//
// Token verification:
//   - TokenVerifier.Verify checks signature and expiry and reports failures as
//     token_malformed, token_expired or token_signature_invalid so middleware
//     can choose between 401 and 403.
//   - TokenVerifier.Decode reads claims without verification, for logging.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Client to describe
//     signup, login, logout, refresh and password reset events. Sinks run
//     best-effort (errors are logged).
package auth
