// Package mcp contains the wire-level types of the Model Context Protocol
// subset served by datadam: the initialize handshake, tool listing and
// invocation, and resource listing and reads. The types mirror the protocol
// schema; they carry no behavior.
package mcp
