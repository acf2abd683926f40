// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/secret"
)

// Variables read by TestAgents.
const (
	TestAgentsVariable       = "SANDBOX_TEST_AGENTS"
	TestAnthropicKeyVariable = "SANDBOX_TEST_ANTHROPIC_API_KEY"
	TestOpenAIKeyVariable    = "SANDBOX_TEST_OPENAI_API_KEY"

	testSourceName = "sandbox-test-env"
)

// ErrNoAgentsConfigured means SANDBOX_TEST_AGENTS was unset or empty.
var ErrNoAgentsConfigured = errors.New("no test agents configured (set " + TestAgentsVariable + ")")

// TestAgent is one agent selected for live integration tests.
type TestAgent struct {
	Agent       agents.ID
	Credentials Extracted
}

// TestAgents reads the live-agent test selection through lookup
// (os.LookupEnv in practice). SANDBOX_TEST_AGENTS is a comma-separated
// list of agent names; "all" expands to claude, codex, opencode and
// amp. Each selected agent must have a usable key among
// SANDBOX_TEST_ANTHROPIC_API_KEY and SANDBOX_TEST_OPENAI_API_KEY.
//
// Callers own the returned key buffers and release them with
// CloseTestAgents.
func TestAgents(lookup func(string) (string, bool)) ([]TestAgent, error) {
	read := func(name string) string {
		value, _ := lookup(name)
		return strings.TrimSpace(value)
	}

	var selected []agents.ID
	for _, entry := range strings.Split(read(TestAgentsVariable), ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "all":
			selected = append(selected, agents.Claude, agents.Codex, agents.Opencode, agents.Amp)
			continue
		}
		id, err := agents.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("unknown agent name: %s: %w", entry, err)
		}
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		return nil, ErrNoAgentsConfigured
	}

	anthropicKey := read(TestAnthropicKeyVariable)
	openAIKey := read(TestOpenAIKeyVariable)

	configs := make([]TestAgent, 0, len(selected))
	for _, id := range selected {
		requirement := RequirementFor(id)
		useAnthropic := requirement.Anthropic && anthropicKey != ""
		useOpenAI := requirement.OpenAI && openAIKey != ""
		if requirement.Any() && !useAnthropic && !useOpenAI {
			CloseTestAgents(configs)
			return nil, &MissingError{
				Agent:   id,
				Missing: describeMissing(requirement, TestAnthropicKeyVariable, TestOpenAIKeyVariable),
			}
		}

		var extracted Extracted
		var err error
		if useAnthropic {
			extracted.Anthropic, err = testCredential(ProviderAnthropic, anthropicKey)
		}
		if err == nil && useOpenAI {
			extracted.OpenAI, err = testCredential(ProviderOpenAI, openAIKey)
		}
		if err != nil {
			CloseTestAgents(append(configs, TestAgent{Agent: id, Credentials: extracted}))
			return nil, err
		}
		configs = append(configs, TestAgent{Agent: id, Credentials: extracted})
	}
	return configs, nil
}

func testCredential(provider, key string) (*ProviderCredentials, error) {
	buffer, err := secret.NewFromString(key)
	if err != nil {
		return nil, fmt.Errorf("protecting %s test key: %w", provider, err)
	}
	return &ProviderCredentials{
		Provider: provider,
		Source:   testSourceName,
		AuthType: AuthAPIKey,
		APIKey:   buffer,
	}, nil
}

// CloseTestAgents releases the key buffers TestAgents allocated.
func CloseTestAgents(configs []TestAgent) {
	for _, config := range configs {
		for _, credential := range []*ProviderCredentials{config.Credentials.Anthropic, config.Credentials.OpenAI} {
			if credential != nil && credential.APIKey != nil {
				credential.APIKey.Close()
			}
		}
	}
}
