// Package services contains the remote model providers the chat widget streams from, and the content
// store the system instruction is built from.
package services

import "errors"

// ErrMissingAPIKey is returned by provider constructors when no credential is configured.
var ErrMissingAPIKey = errors.New("api key is missing")

// LLMParameters are optional sampling parameters shared by the providers. A nil field keeps the
// provider's default.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   int      `yaml:"maxTokens"`
}
