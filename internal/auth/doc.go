// Package auth verifies the bearer tokens presented to the Hydro Core API.
//
// Tokens are HS256 JWTs issued by the site's identity service. Besides the
// registered claims they carry an optional "floors" list that scopes the
// holder to those floors; a token without the claim may act on every
// floor. Hydro Core never stores credentials.
package auth
