// Package auth guards the MCP endpoint with one per-deployment credential.
//
// Three verifiers are available, chosen by auth.type:
//
//   - bearer with token: the Authorization header must carry exactly that token.
//   - bearer with token_hash: the token must match a bcrypt hash.
//   - jwt: an HS256 token signed with jwt_secret and carrying a "sub" claim.
//
// Middleware answers 401 {"error": ...} for anything else. There are no roles;
// every accepted caller sees the whole namespace.
package auth
