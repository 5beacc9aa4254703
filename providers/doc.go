// Package providers groups the stable per-provider import paths.
//
// Each subpackage re-exports an implementation package without adding
// behavior, so callers can depend on providers/<name> while the
// implementation moves. Twilio is the only provider today.
package providers
