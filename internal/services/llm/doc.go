// Package llm is a small client for OpenAI-compatible chat completion
// endpoints (OpenRouter by default) that always asks for a JSON object.
//
// It backs the model-based block classifier and verifier:
//
//   - Client.CompleteJSON sends a system and a user prompt and returns the
//     raw JSON text the model produced.
//   - Client.Ping verifies the key and model.
//   - DecodeJSON tolerates code fences and prose around the JSON.
//
// Requests are retried on 408, 429, 5xx and network timeouts with
// exponential backoff, honouring Retry-After. An optional token bucket
// (WithRateLimit) spaces out calls before they are sent. Context
// cancellation aborts both the wait and any retry.
package llm
