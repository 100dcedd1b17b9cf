// Package api exposes the REST surface for the payment authorization
// engine: conversational proposals, intent lifecycle operations, policy
// inspection, and operational endpoints such as health and metrics.
package api
