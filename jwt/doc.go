// Package jwt issues and verifies the signed, single-purpose tokens mailed to
// users, such as email-verification links. Session tokens are opaque and do
// not go through this package.
package jwt
