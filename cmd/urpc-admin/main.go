// Command urpc-admin is a thin CLI for talking to a running urpc
// endpoint's local admin socket: list channels, dump a metrics
// snapshot, or trigger a detach.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// AdminConfig is the optional on-disk config urpc-admin reads with
// --config (-c); flags always take precedence over it.
type AdminConfig struct {
	SocketPath string `yaml:"socket_path"`
}

func loadConfig(path string) (AdminConfig, error) {
	var cfg AdminConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a YAML config file")
		socketFlag = pflag.StringP("socket", "s", "", "admin unix socket path")
	)
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = cfg.SocketPath
	}
	if socketPath == "" {
		socketPath = "/tmp/urpc-admin.sock"
	}

	args := pflag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: urpc-admin [-s socket] <list-channels|stats|detach> [channel_id]")
		os.Exit(2)
	}

	req := buildRequest(args)
	resp, err := send(socketPath, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "urpc-admin:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintln(os.Stderr, "urpc-admin: encode response:", err)
		os.Exit(1)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		os.Exit(1)
	}
}

func buildRequest(args []string) map[string]interface{} {
	switch args[0] {
	case "list-channels":
		return map[string]interface{}{"op": "list_channels"}
	case "stats":
		return map[string]interface{}{"op": "stats"}
	case "detach":
		channelID := ""
		if len(args) > 1 {
			channelID = args[1]
		}
		return map[string]interface{}{
			"op":   "detach",
			"args": map[string]string{"channel_id": channelID},
		}
	default:
		return map[string]interface{}{"op": args[0]}
	}
}

func send(socketPath string, req map[string]interface{}) (map[string]interface{}, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("no response from %s", socketPath)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
