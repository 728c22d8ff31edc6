package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"rose-market-client/core/model"
	"rose-market-client/core/txn"
)

// prompt asks on the terminal before each transaction is estimated and sent.
type prompt struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompt(in io.Reader, out io.Writer) *prompt {
	return &prompt{in: bufio.NewReader(in), out: out}
}

func (p *prompt) Confirm(ctx context.Context, from model.Identity, action txn.Action) (bool, error) {
	fmt.Fprintf(p.out, "%s: %s from %s, continue? [y/N] ", action.Name, action.Call, from.Hex())

	answer := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if err != nil && err != io.EOF {
			errc <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errc:
		return false, err
	case line := <-answer:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}
