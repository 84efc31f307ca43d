// Package llm is the client side of the text-generation collaborator.
//
// A [Provider] speaks one vendor's REST wire format and completes a single
// request. [Chat] layers conversation sessions on top of any provider and
// implements [Collaborator], the narrow contract the assistant consumes:
// create a session with a system prompt, send a message within it, or
// generate a one-off reply.
//
// Providers talk plain JSON over net/http. Errors from the remote API are
// returned as [*ProviderError]; a missing API key yields [ErrNoAPIKey]
// without touching the network.
package llm
