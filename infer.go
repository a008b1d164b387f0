// Package infer wires the provider drivers shipped with the SDK into a
// ready-to-use registry. Consumers who construct providers directly can
// ignore this package and import the feature packages instead.
package infer

import (
	"goa.design/infer/features/provider/anthropic"
	"goa.design/infer/features/provider/openai"
	"goa.design/infer/runtime/inference/registry"
)

// NewRegistry returns a registry with the built-in drivers registered:
// "openai" and "anthropic".
func NewRegistry() *registry.Registry {
	r := registry.New()
	// Built-in names cannot collide on a fresh registry.
	_ = r.Register(openai.ProviderID, openai.Init)
	_ = r.Register(anthropic.ProviderID, anthropic.Init)
	return r
}
