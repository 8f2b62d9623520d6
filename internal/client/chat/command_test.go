package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"hello there", Command{Kind: CmdSay, Arg: "hello there"}},
		{"  indented", Command{Kind: CmdSay, Arg: "  indented"}},
		{"//not a command", Command{Kind: CmdSay, Arg: "/not a command"}},
		{"/open bob", Command{Kind: CmdOpen, Peer: "bob"}},
		{"/OPEN bob", Command{Kind: CmdOpen, Peer: "bob"}},
		{"/accept alice", Command{Kind: CmdAccept, Peer: "alice"}},
		{"/reject alice", Command{Kind: CmdReject, Peer: "alice"}},
		{"/msg bob  hi, how are you?", Command{Kind: CmdMsg, Peer: "bob", Arg: "hi, how are you?"}},
		{"/send bob ./notes.txt", Command{Kind: CmdSend, Peer: "bob", Arg: "./notes.txt"}},
		{"/close", Command{Kind: CmdClose}},
		{"/close bob", Command{Kind: CmdClose, Peer: "bob"}},
		{"/use carol", Command{Kind: CmdUse, Peer: "carol"}},
		{"/peers", Command{Kind: CmdPeers}},
		{"/sessions", Command{Kind: CmdSessions}},
		{"/help", Command{Kind: CmdHelp}},
		{"/quit\r\n", Command{Kind: CmdQuit}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"", ErrUsage},
		{"   ", ErrUsage},
		{"/dance", ErrUnknownCommand},
		{"/open", ErrUsage},
		{"/open bob extra", ErrUsage},
		{"/msg bob", ErrUsage},
		{"/send bob", ErrUsage},
		{"/peers now", ErrUsage},
		{"/close bob carol", ErrUsage},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := ParseCommand(tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	help := helpText()
	for kind, shape := range commands {
		assert.Contains(t, help, shape.usage, "missing %s", kind)
	}
	assert.Len(t, commandOrder, len(commands))
}
