// Package auth defines the authenticated identity produced by credential
// verification and consumed by the rest of the request pipeline.
//
// Token verification itself lives in the jwt subpackage. An Identity is
// built once per request and never shared between requests.
package auth
