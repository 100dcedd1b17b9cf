// Package agent contains the conversational advisor that translates
// natural-language requests into policy-checked payment proposals. It
// coordinates the LLM layer with the authorization engine and never
// bypasses policy evaluation.
package agent
