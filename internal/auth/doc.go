// Package auth verifies agent credentials presented at session setup.
//
// Three authenticators are provided:
//
//   - JWTAuthenticator: HS256-signed JWTs carrying the subject in "sub".
//     Tokens are minted with Generate and verified per connection.
//
//   - SecretAuthenticator: a single shared secret compared against a bcrypt
//     hash, for small deployments that do not run a token issuer.
//
//   - Allow: accepts everything, for development and in-process tests.
//
// All three satisfy the session manager's Authenticator interface; the
// daemon picks one from the auth.mode config key.
package auth
