// Package transport implements the session-multiplexed streaming HTTP
// transport for the MCP endpoints. It turns stateless POST/GET/DELETE
// requests into long-lived logical sessions: a POST carrying an initialize
// request mints an opaque session token and activates a duplex channel, later
// requests bearing the token are routed to that channel, a GET attaches the
// channel's server-push stream, and a DELETE (or process shutdown) closes the
// channel and evicts its token.
//
// Each Handler owns its own Registry, so two handlers mounted on different
// paths form fully isolated endpoint groups: a token minted by one group is
// unknown to the other even if the string value were to collide.
//
// The transport does not interpret JSON-RPC methods beyond recognizing the
// initialize request; everything else is delegated to the Dispatcher.
package transport
