package websession

// DefaultProfile is the key durable stores use when none is configured
const DefaultProfile = "default"

// TokenStore holds the short-lived access credential for one API origin.
//
// Implementations are synchronous and never fail from the caller's point of
// view: a backend that cannot be read reports the credential as absent, and
// write failures are logged by the implementation.
type TokenStore interface {
	// Get returns the stored access credential, or false if there is none
	Get() (string, bool)

	// Set stores an access credential, replacing any previous value
	Set(token string)

	// Clear removes the stored access credential
	Clear()
}

// NonceStore holds the transient OAuth state nonce between the redirect to the
// identity provider and the callback.
type NonceStore interface {
	// Put stores a nonce, replacing any previous value
	Put(nonce string)

	// Take returns the stored nonce and removes it in the same step
	Take() (string, bool)
}
