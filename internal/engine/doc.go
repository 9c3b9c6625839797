// Package engine implements the conversation routing core.
//
// # Overview
//
// The engine decides, for every inbound customer message, whether a bot
// responds or a human takes over. It is the only component that writes to
// both the bot context store and the conversation ledger, so all routing
// state changes flow through it.
//
// # Inbound Flow
//
// HandleInbound processes one normalized message:
//
//  1. Check the sender against the allow-list.
//  2. Serialize on the customer key so concurrent messages from the same
//     customer cannot interleave.
//  3. Ask the escalation policy whether the context demands a human.
//  4. Otherwise run the responder chain and, if the outbound gate allows
//     it, persist the exchange and schedule a delayed send.
//
// Escalation opens (or activates) a conversation, picks the least-busy
// connected agent, and notifies agents over the hub. The escalation notice
// to the customer is always sent; only automated bot replies are gated.
//
// # Agent Operations
//
// AgentReply, CloseConversation, and AssignConversation back the agent API.
// Agent replies bypass the gate and the humanizing delay. Closing a
// conversation clears the customer's bot context so the next message starts
// a fresh automated session.
package engine
