// Package jwt issues and checks the signed session tokens of the gateway.
//
// Two kinds exist. Access tokens are short lived and accepted by every
// protected route. Refresh tokens live longer, carry a path scope, and are
// only good for minting a new access token at that path.
//
// Decoding and verification are separate steps: [Manager.Decode] reads claims
// without trusting them, while [Manager.Verify] and [Manager.VerifyRefresh]
// are the only way to obtain a [Verified] identity.
package jwt
