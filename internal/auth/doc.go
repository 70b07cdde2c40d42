// Package auth resolves the tenant a request belongs to.
//
// Tokens are issued elsewhere; the registry only reads the "service" claim
// and uses it to scope every query, topic and event. Signature checking is
// optional (security.jwt.verify).
package auth
