// Package providers defines the OAuth provider interface and the normalized
// identity types shared by all implementations.
//
// Implementations are provided in subpackages:
//   - providers/google: Google OAuth 2.0 / OIDC provider
//   - providers/microsoft: Microsoft identity platform (tenant-scoped) provider
//   - providers/apple: Sign in with Apple provider
//   - providers/mock: scriptable provider for testing
//   - providers/oidc: shared JWKS fetching and ID-token verification
//
// Provider implementations handle:
//   - authorization URL generation with nonce, PKCE, and resource indicators
//   - authorization code exchange
//   - identity claim retrieval (ID-token verification preferred over userinfo)
//   - token refresh and revocation
//
// Example usage:
//
//	provider, err := google.NewProvider(&google.Config{
//	    ClientID:     os.Getenv("AUTH_CORE_GOOGLE_CLIENT_ID"),
//	    ClientSecret: os.Getenv("AUTH_CORE_GOOGLE_CLIENT_SECRET"),
//	    RedirectURL:  "https://app.example.com/callback/google",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
package providers
