// Package chat implements the chat widget core: a Session that owns the transcript of one mounted widget
// and a StreamClient that turns a user message into a streamed model reply.
package chat

const errLoggerKey = "err"
