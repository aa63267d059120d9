// Package auth obtains bearer tokens for the document understanding service
// using the OAuth2 client-credentials grant.
//
// The client secret is resolved from configuration first (which already
// includes the DOCFLOW_CLIENT_SECRET fallback) and then from the OS keyring.
// Tokens are cached and refreshed once less than half of their lifetime
// remains.
package auth
