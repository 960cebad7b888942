// Package server implements the authentication core: the orchestrator that
// drives provider login flows end to end (state validation, code exchange,
// identity claims, session creation) and the local authorization-code grant
// with PKCE for first-party tool clients.
//
// The orchestrator composes a provider registry, an encrypted session store,
// and narrow collaborator interfaces (CSRF state codec, rate limiter, security
// auditor, user repository) so deployments can substitute their own
// implementations without touching the flow logic.
package server
