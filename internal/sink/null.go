package sink

import (
	"context"
	"io"
)

// NullName discards every segment. Useful for benchmarking the decode path.
const NullName = "null"

func init() {
	Register(NullName, func(Config) (Transport, error) { return NullTransport{}, nil })
}

type NullTransport struct{}

func (NullTransport) Name() string { return NullName }

func (NullTransport) Create(context.Context, string, string) (Output, error) {
	return nullOutput{}, nil
}

func (NullTransport) Describe(string) string { return "discard" }

type nullOutput struct{}

func (nullOutput) Write(p []byte) (int, error) { return io.Discard.Write(p) }
func (nullOutput) Commit() error               { return nil }
func (nullOutput) Abort() error                { return nil }
