// Package auth0 implements access.CredentialStore on top of an Auth0
// database connection.
//
// Accounts are created and removed through the Management API, passwords
// are checked with the resource owner password grant, and password resets
// and email verification are delivered by Auth0 hosted pages. Sessions are
// still issued by access.Sessions so logout and suspension revoke them
// locally.
package auth0
