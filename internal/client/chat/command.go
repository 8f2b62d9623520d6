package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

type CommandKind string

const (
	CmdSay      CommandKind = "say"
	CmdOpen     CommandKind = "/open"
	CmdAccept   CommandKind = "/accept"
	CmdReject   CommandKind = "/reject"
	CmdMsg      CommandKind = "/msg"
	CmdSend     CommandKind = "/send"
	CmdClose    CommandKind = "/close"
	CmdUse      CommandKind = "/use"
	CmdPeers    CommandKind = "/peers"
	CmdSessions CommandKind = "/sessions"
	CmdHelp     CommandKind = "/help"
	CmdQuit     CommandKind = "/quit"
)

// Command is one parsed console line. Peer is empty when the command
// targets the current conversation.
type Command struct {
	Kind CommandKind
	Peer string
	Arg  string
}

type commandShape struct {
	usage string
	// peer is how many leading words name a peer: 0, 1 or -1 for optional.
	peer int
	arg  bool
}

var commands = map[CommandKind]commandShape{
	CmdOpen:     {usage: "/open <user>", peer: 1},
	CmdAccept:   {usage: "/accept <user>", peer: 1},
	CmdReject:   {usage: "/reject <user>", peer: 1},
	CmdMsg:      {usage: "/msg <user> <text>", peer: 1, arg: true},
	CmdSend:     {usage: "/send <user> <path>", peer: 1, arg: true},
	CmdClose:    {usage: "/close [user]", peer: -1},
	CmdUse:      {usage: "/use <user>", peer: 1},
	CmdPeers:    {usage: "/peers"},
	CmdSessions: {usage: "/sessions"},
	CmdHelp:     {usage: "/help"},
	CmdQuit:     {usage: "/quit"},
}

var commandOrder = []CommandKind{
	CmdOpen, CmdAccept, CmdReject, CmdMsg, CmdSend, CmdClose,
	CmdUse, CmdPeers, CmdSessions, CmdHelp, CmdQuit,
}

// ParseCommand turns a console line into a Command. Lines that do not start
// with '/' are chat text for the current peer. A leading "//" escapes a
// literal slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{}, fmt.Errorf("%w: empty line", ErrUsage)
	}

	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CmdSay, Arg: line}, nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: CmdSay, Arg: trimmed[1:]}, nil
	}

	name, rest, _ := strings.Cut(trimmed, " ")
	kind := CommandKind(strings.ToLower(name))
	shape, ok := commands[kind]
	if !ok {
		return Command{}, fmt.Errorf("%w %q, try /help", ErrUnknownCommand, name)
	}

	cmd := Command{Kind: kind}
	rest = strings.TrimSpace(rest)

	switch shape.peer {
	case 1:
		peer, tail, _ := strings.Cut(rest, " ")
		if peer == "" {
			return Command{}, fmt.Errorf("%w: %s", ErrUsage, shape.usage)
		}
		cmd.Peer = peer
		rest = strings.TrimSpace(tail)
	case -1:
		peer, tail, _ := strings.Cut(rest, " ")
		cmd.Peer = peer
		rest = strings.TrimSpace(tail)
	}

	if shape.arg {
		if rest == "" {
			return Command{}, fmt.Errorf("%w: %s", ErrUsage, shape.usage)
		}
		cmd.Arg = rest
	} else if rest != "" {
		return Command{}, fmt.Errorf("%w: %s", ErrUsage, shape.usage)
	}

	return cmd, nil
}

func helpText() string {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, k := range commandOrder {
		fmt.Fprintf(&b, "  %s\n", commands[k].usage)
	}
	b.WriteString("  anything else is sent to the current peer")
	return b.String()
}
