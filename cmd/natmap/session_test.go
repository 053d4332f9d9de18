package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nattraversal "github.com/go-i2p/go-nat-gateway"
)

type fixedState nattraversal.MappingState

func (f fixedState) State() nattraversal.MappingState {
	return nattraversal.MappingState(f)
}

func TestParseCommand(t *testing.T) {
	for input, expected := range map[string]command{
		"state":    cmdState,
		"close":    cmdClose,
		"help":     cmdHelp,
		" state\r": cmdState,
	} {
		c, ok := parseCommand(input)
		require.True(t, ok, "parseCommand(%q)", input)
		assert.Equal(t, expected, c)
	}

	for _, input := range []string{"", "quit", "STATE", "stat"} {
		_, ok := parseCommand(input)
		assert.False(t, ok, "parseCommand(%q)", input)
	}
}

func TestReadPort(t *testing.T) {
	t.Run("Retries until valid", func(t *testing.T) {
		var out bytes.Buffer
		s := newSession(testContext(t), strings.NewReader("abc\n0\n70000\n8080\n"), &out)

		port, err := s.readPort()
		require.NoError(t, err)
		assert.Equal(t, 8080, port)
		assert.Equal(t, 4, strings.Count(out.String(), "Insert the port number: "))
		assert.Equal(t, 3, strings.Count(out.String(), "Not a valid port!"))
	})

	t.Run("End of input", func(t *testing.T) {
		s := newSession(testContext(t), strings.NewReader("nope\n"), io.Discard)
		_, err := s.readPort()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestSessionRun(t *testing.T) {
	state := fixedState{Protocol: "TCP", InternalPort: 8080, ExternalPort: 8080, Active: true}

	t.Run("State then close", func(t *testing.T) {
		var out bytes.Buffer
		s := newSession(testContext(t), strings.NewReader("state\nbogus\nclose\nstate\n"), &out)

		require.NoError(t, s.run(state))
		output := out.String()
		assert.Contains(t, output, "Commands available:")
		assert.Contains(t, output, "- close - covers the hole")
		assert.Contains(t, output, "Current state: TCP 8080 -> 8080 (active)")
		assert.Contains(t, output, "`bogus` is not recognized as a command...")
		assert.True(t, strings.HasSuffix(output, "Goodbye!\n"), "commands after close are not read")
	})

	t.Run("Help repeats the list", func(t *testing.T) {
		var out bytes.Buffer
		s := newSession(testContext(t), strings.NewReader("help\n"), &out)

		require.NoError(t, s.run(state))
		assert.Equal(t, 2, strings.Count(out.String(), "- state - prints the state of the mapping"))
	})

	t.Run("End of input ends the session", func(t *testing.T) {
		var out bytes.Buffer
		s := newSession(testContext(t), strings.NewReader(""), &out)
		assert.NoError(t, s.run(state))
		assert.NotContains(t, out.String(), "Goodbye!")
	})
}

func TestSessionCancellation(t *testing.T) {
	state := fixedState{Protocol: "UDP", InternalPort: 9000, ExternalPort: 9000, Active: true}

	t.Run("Run returns on cancel while input is idle", func(t *testing.T) {
		in, w := io.Pipe()
		defer w.Close()
		ctx, cancel := context.WithCancel(testContext(t))
		s := newSession(ctx, in, io.Discard)

		done := make(chan error, 1)
		go func() { done <- s.run(state) }()
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("session kept waiting for input after cancel")
		}
	})

	t.Run("Port prompt returns on cancel", func(t *testing.T) {
		in, w := io.Pipe()
		defer w.Close()
		ctx, cancel := context.WithCancel(testContext(t))
		cancel()

		_, err := newSession(ctx, in, io.Discard).readPort()
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCmdRootFlags(t *testing.T) {
	t.Setenv(envRouteSource, "procfs")

	root := CmdRoot()
	flag := root.PersistentFlags().Lookup("source")
	require.NotNil(t, flag)
	assert.Equal(t, "procfs", flag.DefValue)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"gateways", "map"}, names)
}

func TestCmdMapRejectsUnknownMethod(t *testing.T) {
	root := CmdRoot()
	root.SetArgs([]string{"map", "--method", "pcp", "--port", "8080"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	assert.Error(t, root.Execute())
}

type failingMapper struct{ unmapped []int }

func (f *failingMapper) MapPort(protocol string, internalPort int, duration time.Duration) (int, error) {
	return internalPort, nil
}

func (f *failingMapper) UnmapPort(protocol string, externalPort int) error {
	f.unmapped = append(f.unmapped, externalPort)
	return errors.New("gateway refused deletion")
}

func (f *failingMapper) GetExternalIP() (string, error) {
	return "", errors.New("no external address")
}

func TestReleaseMappingLogsFailure(t *testing.T) {
	var logs bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	mapper := &failingMapper{}
	releaseMapping(mapper, "TCP", 40000)

	assert.Equal(t, []int{40000}, mapper.unmapped)
	assert.Contains(t, logs.String(), "failed to unmap port")
	assert.Contains(t, logs.String(), "port=40000")
	assert.Contains(t, logs.String(), "gateway refused deletion")
}

// testContext stands in for testing.T.Context (Go 1.24+): it returns a
// context that is cancelled when the test completes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
