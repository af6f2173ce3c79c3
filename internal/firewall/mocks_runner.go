package firewall

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCommandRunner is a testify mock of CommandRunner. Expectations are
// set on the command name followed by each argument; the context is not
// part of the match.
type MockCommandRunner struct {
	mock.Mock
}

func flatten(name string, args []string) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, name)
	for _, a := range args {
		out = append(out, a)
	}
	return out
}

func (m *MockCommandRunner) Run(_ context.Context, name string, args ...string) error {
	return m.Called(flatten(name, args)...).Error(0)
}

func (m *MockCommandRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	result := m.Called(flatten(name, args)...)
	if result.Get(0) == nil {
		return nil, result.Error(1)
	}
	return result.Get(0).([]byte), result.Error(1)
}
