// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package mock

import "github.com/poiesic/riskdedup/ai"

// MockProvider aggregates a MockEmbedder and a MockRechecker.
type MockProvider struct {
	embedder  *MockEmbedder
	rechecker *MockRechecker
	closed    bool
}

var _ ai.AIProvider = (*MockProvider)(nil)

// NewMockProvider returns a provider with default mocks.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		rechecker: NewMockRechecker(),
	}
}

// NewMockProviderWithServices returns a provider around the given mocks.
func NewMockProviderWithServices(embedder *MockEmbedder, rechecker *MockRechecker) *MockProvider {
	return &MockProvider{
		embedder:  embedder,
		rechecker: rechecker,
	}
}

func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *MockProvider) Rechecker() ai.Rechecker {
	return p.rechecker
}

func (p *MockProvider) Close() error {
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *MockProvider) Closed() bool {
	return p.closed
}

// GetMockEmbedder returns the concrete embedder for assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockRechecker returns the concrete re-checker for assertions.
func (p *MockProvider) GetMockRechecker() *MockRechecker {
	return p.rechecker
}
