// Package util provides shared error types for the gateway.
//
// ValidationError collects several invalid fields at once and matches
// ErrConfigInvalid under errors.Is.
package util
