// Package auth resolves the bearer credential used for backend calls.
//
// The backend issues opaque bearer tokens (JWTs in practice). This
// package only locates them and, for display purposes, decodes their
// claims without verification; the server is the sole authority on
// token validity.
//
// Resolution order:
//
//  1. MARKETOLUH_TOKEN environment variable
//  2. $XDG_CONFIG_HOME/marketoluh/token (or ~/.config/marketoluh/token)
//
// A missing token is reported as ErrNoToken, which callers treat as a
// hard precondition failure: no request or connection is attempted
// without a credential.
package auth
