// Package server implements the OAuth 2.1 authorization server core.
//
// The Server type orchestrates the full protocol: client registration, code
// issuance, code confirmation by the login collaborator, code-for-token
// exchange, refresh-token rotation, access-token verification, and
// revocation. It holds the scope and expiry policy; persistence lives behind
// the storage ports and the HTTP surface lives in the root package.
//
// A code moves through exactly one lifecycle:
//
//	issued (unconfirmed) --Confirm--> confirmed --ExchangeCode--> consumed
//
// Consumption deletes the code atomically, so under concurrent exchange of
// the same code exactly one caller succeeds. Refresh tokens rotate on every
// use: the old token is atomically invalidated when the new pair is minted.
//
// All protocol violations are returned as typed *OAuthError values; only
// genuine storage I/O failures surface as server_error.
package server
