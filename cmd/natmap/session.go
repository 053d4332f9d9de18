package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	nattraversal "github.com/go-i2p/go-nat-gateway"
)

type command int

const (
	cmdState command = iota
	cmdClose
	cmdHelp
)

var commands = []struct {
	name    string
	cmd     command
	explain string
}{
	{"help", cmdHelp, "shows this list"},
	{"close", cmdClose, "covers the hole"},
	{"state", cmdState, "prints the state of the mapping"},
}

func parseCommand(s string) (command, bool) {
	s = strings.TrimSpace(s)
	for _, c := range commands {
		if c.name == s {
			return c.cmd, true
		}
	}
	return 0, false
}

// stater is the part of RenewalManager the session reads.
type stater interface {
	State() nattraversal.MappingState
}

// session is the interactive loop driving one mapping.
// Input is read on its own goroutine so a cancelled context ends the loop
// even while the terminal is idle.
type session struct {
	ctx   context.Context
	lines chan string
	err   error // scanner error, set before lines is closed
	out   io.Writer
}

func newSession(ctx context.Context, in io.Reader, out io.Writer) *session {
	s := &session{ctx: ctx, lines: make(chan string), out: out}
	go s.scan(bufio.NewScanner(in))
	return s
}

func (s *session) scan(scanner *bufio.Scanner) {
	defer close(s.lines)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.ctx.Done():
			return
		}
	}
	s.err = scanner.Err()
}

// readLine returns the next input line, io.EOF at end of input, or the
// context error once it is cancelled.
func (s *session) readLine() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			if s.err != nil {
				return "", s.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}

// readPort prompts until a valid port number is entered.
func (s *session) readPort() (int, error) {
	for {
		fmt.Fprint(s.out, "Insert the port number: ")
		line, err := s.readLine()
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		if err != nil {
			return 0, err
		}
		port, err := strconv.ParseUint(strings.TrimSpace(line), 10, 16)
		if err == nil && port > 0 {
			return int(port), nil
		}
		fmt.Fprintln(s.out, "Not a valid port!")
	}
}

// run reads commands until "close", end of input or cancellation.
func (s *session) run(mapping stater) error {
	fmt.Fprintln(s.out, "\nCommands available:")
	s.printHelp()

	for {
		line, err := s.readLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		c, ok := parseCommand(line)
		if !ok {
			fmt.Fprintf(s.out, "`%s` is not recognized as a command...\n", line)
			continue
		}
		switch c {
		case cmdState:
			fmt.Fprintf(s.out, "Current state: %s\n", mapping.State())
		case cmdClose:
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		case cmdHelp:
			s.printHelp()
		}
	}
}

func (s *session) printHelp() {
	for _, c := range commands {
		fmt.Fprintf(s.out, "- %s - %s\n", c.name, c.explain)
	}
}
