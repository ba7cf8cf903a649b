// Copyright 2025-2026 spore.ink

// Package bridge implements the transit engine of the fairy-ring
// Matrix-QQ bridge: deterministic identity and alias mapping, the
// normalized message model, and the bidirectional forwarder.
//
// # Identity scheme
//
// Every QQ user id maps to the Matrix localpart "_qq_<id>" and every QQ
// group id to the room alias "#_qq_<id>:<homeserver>". Both mappings are
// pure functions; no mapping table is persisted. Virtual users are
// (re-)registered idempotently each time a message from them is relayed.
//
// # Forwarding
//
// The [Forwarder] delivers one [BridgeMessage] at a time, synchronously
// with the inbound event that produced it, and never retries. Failures
// are isolated: a broken segment does not stop its siblings, and a broken
// message does not stop the event stream. Operators observe failures only
// through the logs; neither network ever sees a bridge-generated error.
//
// # Echo prevention
//
// Matrix events whose sender localpart matches the virtual user scheme
// are dropped before forwarding, which breaks the relay loop that would
// otherwise bounce every bridged message back to QQ.
package bridge
