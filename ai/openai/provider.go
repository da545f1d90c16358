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


package openai

import (
	"log/slog"

	"github.com/poiesic/riskdedup/ai"
)

// Provider implements ai.AIProvider with OpenAI-compatible services.
type Provider struct {
	config    *ai.Config
	embedder  *Embedder
	rechecker *Rechecker
	logger    *slog.Logger
}

// NewProvider validates config and builds the embedder and re-checker.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	rechecker, err := newRechecker(config)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:    config,
		embedder:  embedder,
		rechecker: rechecker,
		logger:    slog.Default().With("component", "openai-provider"),
	}, nil
}

// Embedder returns the langchaingo-backed embedding capability.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Rechecker returns the chat-backed semantic re-check capability.
func (p *Provider) Rechecker() ai.Rechecker {
	return p.rechecker
}

// Close releases provider resources. The HTTP clients need no teardown.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}
