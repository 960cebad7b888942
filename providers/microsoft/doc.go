// Package microsoft provides the Microsoft identity platform (Azure AD v2.0)
// provider implementation.
//
// Endpoints and the ID-token issuer are tenant-scoped
// (https://login.microsoftonline.com/{tenant}/v2.0). The RFC 8707 resource
// indicator is passed through to Microsoft on authorize and token requests.
//
// Microsoft exposes no authoritative email-verified claim; the presence of a
// mail or preferred_username value is used as a verified-enough proxy. This
// mirrors upstream behavior and is intentionally weaker than the Google and
// Apple verification signals.
package microsoft
