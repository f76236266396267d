package mcp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

// ServerConfig describes one MCP server entry of the config file.
// Transport is "stdio" (spawn Command) or "http" (connect to URL).
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   []string          `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
}

// Config is the root of the MCP config file.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

type connection struct {
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

// Client holds sessions to the configured MCP servers, keyed by the
// server name from the config.
type Client struct {
	conns map[string]*connection
}

func NewClient() *Client {
	return &Client{conns: make(map[string]*connection)}
}

// Connect opens a session to one server and discovers its tool list.
// Server names must be unique; the name scopes tool calls later.
func (c *Client) Connect(ctx context.Context, cfg ServerConfig) error {
	if _, ok := c.conns[cfg.Name]; ok {
		return goerr.New("duplicate MCP server name", goerr.V("name", cfg.Name))
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		return goerr.Wrap(err, "invalid MCP server config", goerr.V("server", cfg.Name))
	}

	impl := &mcp.Implementation{Name: "mandrake", Version: "0.1.0"}
	session, err := mcp.NewClient(impl, nil).Connect(ctx, transport, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return goerr.Wrap(err, "failed to list MCP tools", goerr.V("server", cfg.Name))
	}

	c.conns[cfg.Name] = &connection{session: session, tools: listed.Tools}
	return nil
}

func buildTransport(cfg ServerConfig) (mcp.Transport, error) {
	switch cfg.Transport {
	case "stdio":
		if len(cfg.Command) == 0 {
			return nil, goerr.New("stdio transport requires a command")
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case "http":
		if cfg.URL == "" {
			return nil, goerr.New("http transport requires a url")
		}
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil

	default:
		return nil, goerr.New("unsupported MCP transport", goerr.V("transport", cfg.Transport))
	}
}

// GetAllServers returns the connected server names, sorted for stable
// tool declaration order.
func (c *Client) GetAllServers() []string {
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTools returns the discovered tools of one server.
func (c *Client) GetTools(serverName string) ([]*mcp.Tool, error) {
	conn, ok := c.conns[serverName]
	if !ok {
		return nil, goerr.New("unknown MCP server", goerr.V("name", serverName))
	}
	return conn.tools, nil
}

// CallTool invokes a tool on the named server.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	conn, ok := c.conns[serverName]
	if !ok {
		return nil, goerr.New("unknown MCP server", goerr.V("name", serverName))
	}

	result, err := conn.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "MCP tool call failed",
			goerr.V("server", serverName), goerr.V("tool", toolName))
	}
	return result, nil
}

// Close shuts down every session. Safe to call more than once.
func (c *Client) Close() error {
	var firstErr error
	for name, conn := range c.conns {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = goerr.Wrap(err, "failed to close MCP session", goerr.V("server", name))
		}
	}
	c.conns = make(map[string]*connection)
	return firstErr
}

// LoadAndConnect reads the YAML server list at configPath, connects to
// every server it can, and wraps the survivors in a Provider. A missing
// path, an empty server list, or all-failed connections yield (nil, nil):
// MCP sources are optional and never block the pipeline.
func LoadAndConnect(ctx context.Context, configPath string) (tool.Tool, error) {
	if configPath == "" {
		return nil, nil
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve MCP config path", goerr.V("path", configPath))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read MCP config", goerr.V("path", abs))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse MCP config", goerr.V("path", abs))
	}
	if len(cfg.Servers) == 0 {
		logging.From(ctx).Info("no MCP servers configured")
		return nil, nil
	}

	client := NewClient()
	connected := 0
	for _, sc := range cfg.Servers {
		if err := client.Connect(ctx, sc); err != nil {
			logging.From(ctx).Warn("skipping MCP server", "server", sc.Name, "error", err)
			continue
		}
		logging.From(ctx).Info("connected to MCP server", "server", sc.Name)
		connected++
	}
	if connected == 0 {
		logging.From(ctx).Warn("no MCP servers reachable", "configured", len(cfg.Servers))
		return nil, nil
	}

	provider, err := NewProvider(client)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build MCP tool provider")
	}
	return provider, nil
}
