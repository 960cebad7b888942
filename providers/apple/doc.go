// Package apple implements Sign in with Apple.
//
// Apple's dialect diverges from plain OAuth2 in three ways this package
// absorbs: the client secret is a short-lived ES256 JWT signed per call with
// the developer's key, authorization responses arrive via form_post, and
// identity is carried exclusively in the RS256-signed ID token because Apple
// exposes no userinfo endpoint.
package apple
