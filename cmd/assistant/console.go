package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/agent"
)

const (
	consoleChannel = "console"
	resetCommand   = "/reset"
)

type server interface {
	Serve(ctx context.Context, msgs <-chan agent.Message) error
	Reset(channelID string)
}

// console is a transport over a line reader and a writer. Every line is one
// message in a single channel.
type console struct {
	in      io.Reader
	mu      sync.Mutex
	out     io.Writer
	guild   string
	author  string
	counter int
}

func newConsole(in io.Reader, out io.Writer, guild, author string) *console {
	return &console{in: in, out: out, guild: guild, author: author}
}

// Send prints a reply.
func (c *console) Send(_ context.Context, _ string, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "assistant> %s\n", content)
	return err
}

// SendTyping prints the typing indicator.
func (c *console) SendTyping(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, "assistant is typing...")
	return err
}

// Run feeds input lines to srv until the input ends or ctx is done.
func (c *console) Run(ctx context.Context, srv server) error {
	msgs := make(chan agent.Message)
	go func() {
		defer close(msgs)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == resetCommand {
				srv.Reset(consoleChannel)
				_ = c.Send(ctx, consoleChannel, "Conversation cleared.")
				continue
			}
			select {
			case msgs <- c.message(line):
			case <-ctx.Done():
				return
			}
		}
	}()

	err := srv.Serve(ctx, msgs)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *console) message(content string) agent.Message {
	c.counter++
	return agent.Message{
		ID:        strconv.Itoa(c.counter),
		ChannelID: consoleChannel,
		GuildID:   c.guild,
		AuthorID:  c.author,
		Content:   content,
	}
}
