package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// cqctl - Command-line IPC Client
// ============================================================================
// This tool sends actions to the cqbridge daemon via its Unix socket.
//
// Usage:
//   cqctl press 20
//   cqctl press 20 127
//   cqctl trigger break_mode
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/cqbridge.sock)
// ============================================================================

// Action types (duplicated from the daemon package for a standalone binary)
type Action interface{}

type ButtonPress struct {
	Code  int `json:"code"`
	Value int `json:"value"`
}

type Trigger struct {
	Controllable string `json:"controllable"`
}

// ActionEnvelope wraps actions for JSON
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := "/tmp/cqbridge.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var (
		action  Action
		envType string
	)

	switch args[0] {
	case "press":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: press requires a button code\n")
			os.Exit(1)
		}
		code, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid button code %q\n", args[1])
			os.Exit(1)
		}
		value := 127
		if len(args) >= 3 {
			value, err = strconv.Atoi(args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid value %q\n", args[2])
				os.Exit(1)
			}
		}
		action = ButtonPress{Code: code, Value: value}
		envType = "button_press"

	case "trigger":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: trigger requires a controllable name\n")
			os.Exit(1)
		}
		action = Trigger{Controllable: args[1]}
		envType = "trigger"

	case "help", "-help", "--help", "-h":
		printUsage()
		return

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err := sendAction(socketPath, envType, action); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func sendAction(socketPath, envType string, action Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	envelope, err := json.Marshal(ActionEnvelope{Type: envType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", envelope); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	return nil
}

func printUsage() {
	fmt.Println("cqctl - control the cqbridge daemon")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  cqctl [-socket PATH] COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  press CODE [VALUE]    Inject a button event (default value 127)")
	fmt.Println("  trigger NAME          Fire a controllable by name (e.g. break_mode)")
	fmt.Println("  help                  Show this message")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -socket PATH          Unix domain socket path (default /tmp/cqbridge.sock)")
}
