// Package chat is the interactive front end of a peer: it turns console
// lines into node calls and prints session events.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/peer-chat/internal/peer"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const maxLineBytes = 1 << 20

// Node is the part of peer.Node the console drives.
type Node interface {
	Username() string
	Open(ctx context.Context, username string) (session.Info, error)
	Accept(peer string) error
	Reject(peer string) error
	SendMessage(peer, text string) error
	SendFile(peer, filename string, payload []byte) error
	Close(peer string) error
	Peers(ctx context.Context) ([]string, error)
	Sessions() []session.Info
	Events() <-chan session.Event
}

var _ Node = (*peer.Node)(nil)

type Config struct {
	Node Node
	// DownloadDir receives files as "<peer>-<name>".
	DownloadDir string
	Out         io.Writer
	Logger      *logrus.Logger
}

type Console struct {
	node        Node
	downloadDir string
	out         io.Writer
	logger      *logrus.Logger

	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter

	mu      sync.Mutex
	current string
}

func NewConsole(cfg Config) *Console {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dir := cfg.DownloadDir
	if dir == "" {
		dir = "."
	}

	return &Console{
		node:        cfg.Node,
		downloadDir: dir,
		out:         out,
		logger:      logger,
		info:        pterm.Info.WithWriter(out),
		success:     pterm.Success.WithWriter(out),
		warning:     pterm.Warning.WithWriter(out),
	}
}

// Current is the peer plain lines are sent to.
func (c *Console) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Console) setCurrent(name string) {
	c.mu.Lock()
	c.current = name
	c.mu.Unlock()
}

// Run reads commands from in until /quit, EOF or ctx is done. Command
// failures are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			cmd, err := ParseCommand(line)
			if err != nil {
				c.warning.Println(err.Error())
				continue
			}
			quit, err := c.Execute(ctx, cmd)
			if err != nil {
				c.warning.Println(describe(err))
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one command. The boolean reports /quit.
func (c *Console) Execute(ctx context.Context, cmd Command) (bool, error) {
	switch cmd.Kind {
	case CmdSay:
		to := c.Current()
		if to == "" {
			return false, errors.New("no current peer, use /open, /accept or /use first")
		}
		return false, c.node.SendMessage(to, cmd.Arg)

	case CmdOpen:
		if _, err := c.node.Open(ctx, cmd.Peer); err != nil {
			return false, err
		}
		c.setCurrent(cmd.Peer)
		c.info.Printfln("waiting for %s to accept", cmd.Peer)

	case CmdAccept:
		if err := c.node.Accept(cmd.Peer); err != nil {
			return false, err
		}
		c.setCurrent(cmd.Peer)
		c.success.Printfln("chatting with %s", cmd.Peer)

	case CmdReject:
		if err := c.node.Reject(cmd.Peer); err != nil {
			return false, err
		}
		c.info.Printfln("rejected %s", cmd.Peer)

	case CmdMsg:
		return false, c.node.SendMessage(cmd.Peer, cmd.Arg)

	case CmdSend:
		return false, c.sendFile(cmd.Peer, cmd.Arg)

	case CmdClose:
		to := cmd.Peer
		if to == "" {
			to = c.Current()
		}
		if to == "" {
			return false, errors.New("no current peer to close")
		}
		if err := c.node.Close(to); err != nil {
			return false, err
		}
		if c.Current() == to {
			c.setCurrent("")
		}
		c.info.Printfln("closed session with %s", to)

	case CmdUse:
		c.setCurrent(cmd.Peer)
		c.info.Printfln("now talking to %s", cmd.Peer)

	case CmdPeers:
		names, err := c.node.Peers(ctx)
		if err != nil {
			return false, err
		}
		c.printPeers(names)

	case CmdSessions:
		c.printSessions(c.node.Sessions())

	case CmdHelp:
		c.info.Println(helpText())

	case CmdQuit:
		return true, nil

	default:
		return false, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Kind)
	}
	return false, nil
}

// HandleEvents prints events until the node's event channel is closed or
// ctx is done.
func (c *Console) HandleEvents(ctx context.Context) error {
	events := c.node.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Console) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventInboundRequest:
		c.info.Printfln("%s wants to chat, /accept %s or /reject %s", ev.Peer, ev.Peer, ev.Peer)

	case session.EventAccepted:
		c.setCurrent(ev.Peer)
		c.success.Printfln("%s accepted, chatting with %s", ev.Peer, ev.Peer)

	case session.EventMessage:
		c.peerPrinter(ev.Peer).Println(ev.Text)

	case session.EventFile:
		path, err := c.saveFile(ev.Peer, ev.Filename, ev.Payload)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"peer": ev.Peer, "error": err}).Error("Failed to save received file")
			c.warning.Printfln("could not save %s from %s: %v", ev.Filename, ev.Peer, err)
			return
		}
		c.success.Printfln("received %s from %s, saved to %s", ev.Filename, ev.Peer, path)

	case session.EventClosed:
		c.mu.Lock()
		if c.current == ev.Peer {
			c.current = ""
		}
		c.mu.Unlock()
		c.info.Printfln("session with %s closed", ev.Peer)
	}
}

func (c *Console) peerPrinter(name string) *pterm.PrefixPrinter {
	return pterm.Info.
		WithPrefix(pterm.Prefix{Text: name, Style: pterm.NewStyle(pterm.BgCyan, pterm.FgBlack)}).
		WithMessageStyle(pterm.NewStyle(pterm.FgDefault)).
		WithWriter(c.out)
}

func (c *Console) printPeers(names []string) {
	if len(names) == 0 {
		c.info.Println("no peers registered")
		return
	}
	c.info.Printfln("%d registered: %s", len(names), strings.Join(names, ", "))
}

func (c *Console) printSessions(infos []session.Info) {
	if len(infos) == 0 {
		c.info.Println("no sessions")
		return
	}

	data := pterm.TableData{{"peer", "direction", "state", "remote"}}
	for _, in := range infos {
		data = append(data, []string{in.Peer, in.Direction.String(), in.State.String(), in.RemoteAddr})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		c.warning.Println(err.Error())
		return
	}
	fmt.Fprintln(c.out, table)
}

func (c *Console) sendFile(to, path string) error {
	payload, err := readFile(path, c.out)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if err := c.node.SendFile(to, name, payload); err != nil {
		return err
	}
	c.success.Printfln("sent %s (%d bytes) to %s", name, len(payload), to)
	return nil
}

func readFile(path string, progress io.Writer) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	bar := progressbar.NewOptions64(st.Size(),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("reading "+filepath.Base(path)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	var buf bytes.Buffer
	buf.Grow(int(st.Size()))
	if _, err := io.Copy(io.MultiWriter(&buf, bar), f); err != nil {
		return nil, err
	}
	_ = bar.Finish()
	return buf.Bytes(), nil
}

// saveFile writes payload under the download directory. Only the base names
// of from and filename are used.
func (c *Console) saveFile(from, filename string, payload []byte) (string, error) {
	name := plainName(from, "peer") + "-" + plainName(filename, "file")

	if err := os.MkdirAll(c.downloadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.downloadDir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// plainName strips directories from s, using fallback when nothing usable
// remains.
func plainName(s, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(s, `\`, "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return fallback
	}
	return base
}

func describe(err error) string {
	switch {
	case errors.Is(err, peer.ErrPeerNotFound):
		return fmt.Sprintf("%v: the user is not registered", err)
	case errors.Is(err, peer.ErrPeerOffline):
		return fmt.Sprintf("%v: the user is registered but not reachable", err)
	case errors.Is(err, peer.ErrDirectoryOffline):
		return fmt.Sprintf("%v: the directory service cannot be reached", err)
	default:
		return err.Error()
	}
}
