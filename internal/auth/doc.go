// Package auth provides bearer-token authorisation for the arbiter API.
//
// Tokens are HS256 JWTs carrying a subject and a role. Roles map to a static
// permission set:
//
//	viewer   → read devices, quarantine, locks, history
//	operator → viewer + dispatch actions
//	admin    → operator + reset locks
//
// The daemon never stores accounts. Operators mint tokens offline with
// `arbiterctl token` using the shared secret from the daemon config.
package auth
