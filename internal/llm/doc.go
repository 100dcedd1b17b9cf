// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs and normalizes the structured
// payment-proposal output the advisor layer relies on.
package llm
