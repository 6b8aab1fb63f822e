// Package protocol defines Coral's wire-facing data model: users, groups,
// message segments and chains, the event hierarchy, and the outbound
// request/response types that cross the Event Bus.
package protocol

// ProtocolVersion is the version of this data model, reported by the
// `version` command. Outbound WebSocket frames and other payloads do not
// carry it.
const ProtocolVersion = "1.0"
