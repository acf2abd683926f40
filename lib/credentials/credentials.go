// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package credentials resolves the provider API keys an agent backend
// needs and projects them into a child process environment.
//
// Keys come from explicit [Source] values (a key=value file, a lookup
// function, a fixed map). [Extract] groups them per provider and
// [Environment] turns the result into NAME=value pairs. The session
// engine never sees credentials; only backend adapters do.
package credentials

import (
	"errors"
	"fmt"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/secret"
)

// AuthType is how a provider credential authenticates.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthOAuth  AuthType = "oauth"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Environment variable names read from sources and written to backend
// processes. The first name per provider is preferred when both are set.
var (
	anthropicNames = []string{"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"}
	openAINames    = []string{"OPENAI_API_KEY", "CODEX_API_KEY"}
)

// ProviderCredentials is one provider's key and where it came from.
type ProviderCredentials struct {
	Provider string
	Source   string
	AuthType AuthType
	APIKey   *secret.Buffer
}

// Extracted holds at most one credential per provider.
type Extracted struct {
	Anthropic *ProviderCredentials
	OpenAI    *ProviderCredentials
}

// Empty reports whether no provider has a key.
func (extracted Extracted) Empty() bool {
	return extracted.Anthropic == nil && extracted.OpenAI == nil
}

// Extract reads provider keys from source. sourceName is recorded on
// each credential for diagnostics.
func Extract(source Source, sourceName string) Extracted {
	return Extracted{
		Anthropic: first(source, sourceName, ProviderAnthropic, anthropicNames),
		OpenAI:    first(source, sourceName, ProviderOpenAI, openAINames),
	}
}

func first(source Source, sourceName, provider string, names []string) *ProviderCredentials {
	for _, name := range names {
		if buffer := source.Get(name); buffer != nil {
			return &ProviderCredentials{
				Provider: provider,
				Source:   sourceName,
				AuthType: AuthAPIKey,
				APIKey:   buffer,
			}
		}
	}
	return nil
}

// Environment returns NAME=value pairs for every key in extracted,
// under every variable name agents are known to read.
func Environment(extracted Extracted) []string {
	var environment []string
	if extracted.Anthropic != nil && extracted.Anthropic.APIKey != nil {
		key := extracted.Anthropic.APIKey.String()
		for _, name := range anthropicNames {
			environment = append(environment, name+"="+key)
		}
	}
	if extracted.OpenAI != nil && extracted.OpenAI.APIKey != nil {
		key := extracted.OpenAI.APIKey.String()
		for _, name := range openAINames {
			environment = append(environment, name+"="+key)
		}
	}
	return environment
}

// Requirement is which providers an agent can authenticate with.
type Requirement struct {
	Anthropic bool
	OpenAI    bool
}

// Any reports whether the agent needs a credential at all.
func (requirement Requirement) Any() bool {
	return requirement.Anthropic || requirement.OpenAI
}

// Satisfied reports whether extracted has a key the agent can use.
func (requirement Requirement) Satisfied(extracted Extracted) bool {
	if !requirement.Any() {
		return true
	}
	return (requirement.Anthropic && extracted.Anthropic != nil) ||
		(requirement.OpenAI && extracted.OpenAI != nil)
}

// RequirementFor maps each agent to the providers it accepts.
func RequirementFor(agent agents.ID) Requirement {
	switch agent {
	case agents.Claude, agents.Amp:
		return Requirement{Anthropic: true}
	case agents.Codex:
		return Requirement{OpenAI: true}
	case agents.Opencode, agents.Pi:
		return Requirement{Anthropic: true, OpenAI: true}
	default:
		return Requirement{}
	}
}

// Filter keeps only the providers agent accepts.
func Filter(agent agents.ID, extracted Extracted) Extracted {
	requirement := RequirementFor(agent)
	var filtered Extracted
	if requirement.Anthropic {
		filtered.Anthropic = extracted.Anthropic
	}
	if requirement.OpenAI {
		filtered.OpenAI = extracted.OpenAI
	}
	return filtered
}

// Provider hands backend adapters the credentials for one agent.
type Provider interface {
	CredentialsFor(agent agents.ID) (Extracted, error)
}

// ErrMissingCredentials is matched by *MissingError.
var ErrMissingCredentials = errors.New("missing credentials")

// MissingError reports that no acceptable key exists for an agent.
// Missing names the variables that would have satisfied it.
type MissingError struct {
	Agent   agents.ID
	Missing string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing credentials for %s: %s", e.Agent, e.Missing)
}

func (e *MissingError) Is(target error) bool { return target == ErrMissingCredentials }

// SourceProvider serves credentials from a single Source.
type SourceProvider struct {
	Source Source
	Name   string

	// Strict makes CredentialsFor fail when an agent that needs a key
	// has none. Off by default: a CLI may already be logged in through
	// its own config.
	Strict bool
}

func (provider *SourceProvider) CredentialsFor(agent agents.ID) (Extracted, error) {
	extracted := Filter(agent, Extract(provider.Source, provider.Name))
	requirement := RequirementFor(agent)
	if provider.Strict && !requirement.Satisfied(extracted) {
		return Extracted{}, &MissingError{Agent: agent, Missing: describeMissing(requirement, anthropicNames[0], openAINames[0])}
	}
	return extracted, nil
}

func describeMissing(requirement Requirement, anthropicName, openAIName string) string {
	switch {
	case requirement.Anthropic && requirement.OpenAI:
		return anthropicName + " or " + openAIName
	case requirement.Anthropic:
		return anthropicName
	default:
		return openAIName
	}
}
