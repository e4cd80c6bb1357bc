// Package auth provides session token issuance and validation, the
// authenticated actor context, and login rate limiting.
//
// Tokens are opaque bearer tokens. Only a SHA-256 hash is stored; a stolen
// database dump does not yield usable credentials. Login attempts are
// recorded per email and per source IP and throttled over a rolling window.
package auth
