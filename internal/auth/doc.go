// Package auth provides agent authentication for zapdesk-gateway.
//
// Agents authenticate with JWT bearer tokens signed HS256 using the
// configured jwt_secret. Tokens carry the agent ID in the "sub" claim.
//
// HTTPAuthMiddleware protects the agent REST API; the WebSocket endpoint
// verifies the same tokens from a query parameter since browsers cannot
// set headers on WebSocket upgrades. The authenticated agent ID travels
// on the request context via WithAgent/AgentFromContext.
//
// Tokens are minted offline with the "zapdesk-gateway token" command.
package auth
