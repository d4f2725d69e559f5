// Package auth provides bearer authentication for the MCP HTTP endpoints.
//
// # Credentials
//
//   - API keys: static secrets from auth.api_keys, compared in constant time.
//     They authenticate as the principal "api-key".
//   - JWT tokens: HS256 tokens signed with auth.jwt_secret (at least 32 bytes),
//     issued by "coven-mcp", with the agent identity in "sub". Mint one with
//     `mcp-server token <agent-id>`.
//
// When neither is configured the middleware is a pass-through and the
// Authorization header is ignored. WebSocket connections are never checked.
//
// # Usage
//
//	a, err := auth.NewAuthenticator(auth.Config{APIKeys: keys, JWTSecret: secret})
//	mux.Handle("POST /invoke_tool", a.Middleware(handler))
//
// Handlers read the verified identity with auth.FromContext.
package auth
