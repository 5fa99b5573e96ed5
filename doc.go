// Package websession provides the authenticated session layer for clients of a
// community content API (reviews, posts, phishing reports, messaging).
//
// The layer acquires, stores, refreshes and attaches credentials to every
// outgoing request, and reconciles an OAuth login with the same session model.
//
// # Architecture
//
// TokenStore: a durable holder for the short-lived access credential. Backends
// live in the stores packages (memory, filesystem, GORM, Datastore, scs).
//
// Refresher: exchanges the long-lived refresh credential, carried as a cookie
// the client never reads, for a new access credential.
//
// Gateway: an http.RoundTripper that attaches the access credential, recovers
// from 401 responses with a single coalesced refresh, retries each request at
// most once and terminates the session when recovery is impossible.
//
// Session: the externally observable state, anonymous or authenticated with a
// user. UI code reads this and nothing else.
//
// # Basic Usage
//
//	tokens, _ := stores.NewFSTokenStore("", "myapp", "default")
//	c := client.NewClient("https://api.example.com", tokens,
//	    client.WithOnSessionExpired(func() { navigate("/login") }))
//
//	// At startup, before rendering anything session dependent
//	c.Restore(ctx)
//
//	// Every application call goes through the gateway
//	resp, err := c.HTTPClient().Get("https://api.example.com/posts")
//
// # OAuth
//
// The oauth2 package completes a provider authorization-code flow against the
// backend's callback endpoint and hands the resulting credential to the same
// client. The grpc package applies the gateway semantics to gRPC calls.
//
// # Security
//
// The refresh credential is never read or stored by this module; it is carried
// by the HTTP cookie jar and submitted implicitly to the refresh, login and
// logout endpoints. Access credentials are never logged.
package websession
