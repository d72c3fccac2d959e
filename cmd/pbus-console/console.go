package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/chzyer/readline"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/lifecycle"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// Console drives one device CPU port interactively. Commands run on the
// readline goroutine; a background reader prints whatever the device
// delivers.
type Console struct {
	conn net.Conn
	rl   *readline.Instance

	mu       sync.Mutex
	seq      uint64
	deviceID uint16
}

// NewConsole wraps an established CPU connection.
func NewConsole(conn net.Conn, historyFile string) (*Console, error) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("register"),
		readline.PcItem("deregister"),
		readline.PcItem("status"),
		readline.PcItem("send"),
		readline.PcItem("broadcast"),
		readline.PcItem("external"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pbus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{conn: conn, rl: rl}, nil
}

// Run starts the interactive command loop and the reply reader.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer c.conn.Close()

	go c.readLoop()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "register", "reg":
			c.cmdHostOp(wire.HostOpRegister)

		case "deregister", "dereg":
			c.cmdHostOp(wire.HostOpDeregister)

		case "status", "st":
			c.cmdHostOp(wire.HostOpStatus)

		case "send":
			c.cmdSend(args)

		case "broadcast", "bc":
			c.cmdBroadcast(args)

		case "external", "ext":
			c.cmdExternal(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
PBUS Console Commands:
  Registration:
    register           - Ask the authority to admit this device
    deregister         - Leave the network
    status             - Show controller state and fault counters

  Messaging:
    send <id> <text>   - Send sealed text to one registered peer
    broadcast <text>   - Send sealed text to every registered peer
    external <text>    - Send plaintext text to the external gateway

  General:
    help               - Show this help
    quit               - Exit console

  Status replies and delivered messages print as they arrive.`)
}

// cmdHostOp sends one controller command toward the authority
// identifier; the controller answers every command with a status reply.
func (c *Console) cmdHostOp(op wire.HostOp) {
	payload, err := wire.EncodeHost(&wire.HostCommand{MsgType: wire.MsgHostCommand, Op: op})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Encode failed: %v\n", err)
		return
	}
	c.transmit(frame.IDAuthority, payload)
}

// cmdSend handles the send command.
func (c *Console) cmdSend(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <device-id> <text>")
		return
	}

	id, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid device id: %v\n", err)
		return
	}
	if !frame.IsDeviceID(uint16(id)) {
		fmt.Fprintf(c.rl.Stdout(), "Reserved id %d; device ids start at %d\n", id, frame.FirstDeviceID)
		return
	}

	c.transmit(uint16(id), []byte(strings.Join(args[1:], " ")))
}

// cmdBroadcast handles the broadcast command.
func (c *Console) cmdBroadcast(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: broadcast <text>")
		return
	}
	c.transmit(frame.IDBroadcast, []byte(strings.Join(args, " ")))
}

// cmdExternal handles the external command.
func (c *Console) cmdExternal(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: external <text>")
		return
	}
	c.transmit(frame.IDExternal, []byte(strings.Join(args, " ")))
}

// transmit frames a payload for the device. The controller ignores the
// source the CPU writes, so the console stamps whatever identity it has
// learned from status replies.
func (c *Console) transmit(dst uint16, payload []byte) {
	c.mu.Lock()
	c.seq++
	f := &frame.Frame{
		Destination: dst,
		Source:      c.deviceID,
		Sequence:    c.seq,
		Payload:     payload,
	}
	c.mu.Unlock()

	data, err := f.Encode()
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Encode failed: %v\n", err)
		return
	}
	if _, err := c.conn.Write(data); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Send failed: %v\n", err)
	}
}

// readLoop reassembles frames off the CPU connection and prints them.
func (c *Console) readLoop() {
	asm := frame.NewAssembler()
	buf := make([]byte, 4096)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			asm.Feed(buf[:n])
			c.drain(asm)
		}
		if err != nil {
			fmt.Fprintln(c.rl.Stdout(), "\nDevice connection closed")
			c.rl.Close()
			return
		}
	}
}

func (c *Console) drain(asm *frame.Assembler) {
	for {
		f, err := asm.Next()
		if err == nil {
			c.printFrame(f)
			continue
		}
		if errors.Is(err, frame.ErrNoFrame) {
			return
		}
		// Garbage from our own device is a wiring bug, not an attack;
		// the assembler already skipped it.
	}
}

// printFrame renders one delivered frame. Frames sourced from the
// authority identifier on the CPU link are always status replies.
func (c *Console) printFrame(f *frame.Frame) {
	now := time.Now().Format("15:04:05")

	switch {
	case f.Source == frame.IDAuthority:
		c.printStatus(now, f.Payload)
	case f.Source == frame.IDExternal:
		fmt.Fprintf(c.rl.Stdout(), "\n[%s] External: %s\n", now, payloadString(f.Payload))
	case f.Destination == frame.IDBroadcast:
		fmt.Fprintf(c.rl.Stdout(), "\n[%s] Broadcast from %d: %s\n", now, f.Source, payloadString(f.Payload))
	default:
		fmt.Fprintf(c.rl.Stdout(), "\n[%s] From %d: %s\n", now, f.Source, payloadString(f.Payload))
	}
	c.rl.Refresh()
}

func (c *Console) printStatus(now string, payload []byte) {
	st, err := wire.DecodeHostStatus(payload)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "\n[%s] Undecodable status reply: %v\n", now, err)
		return
	}

	c.mu.Lock()
	c.deviceID = st.DeviceID
	c.mu.Unlock()

	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Status: %s (device %d, faults %d)\n",
		now, lifecycle.State(st.State), st.DeviceID, st.FaultCount)
	if len(st.Blocked) > 0 {
		peers := make([]string, len(st.Blocked))
		for i, p := range st.Blocked {
			peers[i] = strconv.Itoa(int(p))
		}
		fmt.Fprintf(c.rl.Stdout(), "           Blocked peers: %s\n", strings.Join(peers, ", "))
	}
}

// payloadString renders a delivered payload: text when printable, hex
// otherwise.
func payloadString(b []byte) string {
	if utf8.Valid(b) && isPrintable(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}
