package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

var isTerminal = term.IsTerminal

// promptPassword reads a password without echo when stdin is a terminal and
// a single line otherwise, so the command also works in pipelines.
func (a *app) promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if a.in == os.Stdin && isTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		pw, err := readPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	return readLine(a.in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
