// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/computesdk/sandbox-agent/lib/secret"
)

// Source yields raw credential values by name, for example
// "ANTHROPIC_API_KEY". Returned buffers are owned by the source and
// stay valid until its Close.
type Source interface {
	Get(name string) *secret.Buffer
	Close() error
}

// MapSource serves a fixed set of values. Immutable after construction.
type MapSource struct {
	values map[string]*secret.Buffer
}

// NewMapSource copies values into protected buffers. Empty values are
// skipped.
func NewMapSource(values map[string]string) (*MapSource, error) {
	source := &MapSource{values: make(map[string]*secret.Buffer, len(values))}
	for name, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		buffer, err := secret.NewFromString(value)
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("protecting credential %q: %w", name, err)
		}
		source.values[name] = buffer
	}
	return source, nil
}

func (source *MapSource) Get(name string) *secret.Buffer {
	return source.values[name]
}

func (source *MapSource) Close() error {
	for name, buffer := range source.values {
		buffer.Close()
		delete(source.values, name)
	}
	return nil
}

// LoadFile reads KEY=value lines into a MapSource. Blank lines and
// lines starting with # are ignored, as is an "export " prefix, so a
// shell env file can be used directly.
func LoadFile(path string) (*MapSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	defer secret.Zero(data)

	source := &MapSource{values: make(map[string]*secret.Buffer)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("export "))
		name, value, found := bytes.Cut(line, []byte("="))
		if !found || len(bytes.TrimSpace(name)) == 0 {
			source.Close()
			return nil, fmt.Errorf("%s:%d: expected KEY=value", path, lineNumber)
		}
		value = bytes.Trim(bytes.TrimSpace(value), `"'`)
		if len(value) == 0 {
			continue
		}
		buffer, err := secret.NewFromBytes(append([]byte(nil), value...))
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("%s:%d: %w", path, lineNumber, err)
		}
		key := string(bytes.TrimSpace(name))
		if previous, ok := source.values[key]; ok {
			previous.Close()
		}
		source.values[key] = buffer
	}
	if err := scanner.Err(); err != nil {
		source.Close()
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	return source, nil
}

// LookupSource reads through a lookup function, typically os.LookupEnv,
// caching each hit in a protected buffer. The function is injected so
// nothing in this package reads the process environment on its own.
type LookupSource struct {
	Lookup func(string) (string, bool)

	mu    sync.Mutex
	cache map[string]*secret.Buffer
}

func (source *LookupSource) Get(name string) *secret.Buffer {
	source.mu.Lock()
	defer source.mu.Unlock()

	if buffer, ok := source.cache[name]; ok {
		return buffer
	}
	if source.Lookup == nil {
		return nil
	}
	value, ok := source.Lookup(name)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return nil
	}
	buffer, err := secret.NewFromString(value)
	if err != nil {
		return nil
	}
	if source.cache == nil {
		source.cache = make(map[string]*secret.Buffer)
	}
	source.cache[name] = buffer
	return buffer
}

func (source *LookupSource) Close() error {
	source.mu.Lock()
	defer source.mu.Unlock()
	for name, buffer := range source.cache {
		buffer.Close()
		delete(source.cache, name)
	}
	return nil
}

// ChainSource returns the first hit across Sources in order.
type ChainSource struct {
	Sources []Source
}

func (source *ChainSource) Get(name string) *secret.Buffer {
	for _, child := range source.Sources {
		if buffer := child.Get(name); buffer != nil {
			return buffer
		}
	}
	return nil
}

func (source *ChainSource) Close() error {
	for _, child := range source.Sources {
		child.Close()
	}
	return nil
}
