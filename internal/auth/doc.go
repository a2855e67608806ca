// Package auth validates the bearer tokens presented to the beacon API.
//
// Tokens are HS256 JWTs signed by the Gray Logic core with the shared site
// secret. The beacon keeps no user database: it trusts the signature, the
// role claim and the optional bcn claim listing the beacons a token is
// good for.
//
// Roles are ranked user < admin < owner and each permission names the
// lowest role that holds it:
//
//	beacon:read       user
//	beacon:configure  admin
//	audit:read        admin
//	beacon:dangerous  owner
package auth
