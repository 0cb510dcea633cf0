package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaygate/relaygate/internal/approval"
	"github.com/relaygate/relaygate/internal/nodes"
	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/internal/process"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/pkg/models"
)

// execArgsSchema and processArgsSchema bound the two local tools' argument
// shapes. Grounded on pkg/pluginsdk.ValidateConfig, which compiles and
// caches a santhosh-tekuri/jsonschema schema the same way.
const execArgsSchemaJSON = `{
	"type": "object",
	"required": ["command"],
	"properties": {
		"command": {"type": "string", "minLength": 1},
		"workdir": {"type": "string"},
		"env": {"type": "object"},
		"input": {"type": "string"},
		"yield_ms": {"type": "integer", "minimum": 0},
		"timeout_sec": {"type": "integer", "minimum": 0}
	}
}`

const processArgsSchemaJSON = `{
	"type": "object",
	"required": ["op"],
	"properties": {
		"op": {"type": "string", "enum": ["list", "poll", "log", "write", "kill", "clear", "remove"]},
		"id": {"type": "string"},
		"offset": {"type": "integer"},
		"limit": {"type": "integer"},
		"tail_lines": {"type": "integer"},
		"data": {"type": "string"},
		"eof": {"type": "boolean"}
	}
}`

var (
	schemaOnce   sync.Once
	execSchema   *jsonschema.Schema
	procSchema   *jsonschema.Schema
	schemaErr    error
)

func compileToolSchemas() error {
	schemaOnce.Do(func() {
		execSchema, schemaErr = jsonschema.CompileString("exec.schema.json", execArgsSchemaJSON)
		if schemaErr != nil {
			return
		}
		procSchema, schemaErr = jsonschema.CompileString("process.schema.json", processArgsSchemaJSON)
	})
	return schemaErr
}

func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage) error {
	if schema == nil || len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	return schema.Validate(decoded)
}

// localTools implements orchestrator.LocalToolExecutor by routing "exec"
// calls straight through process.Manager.Exec and "process" calls to the
// matching Manager subcommand, keyed by the call's "op" argument. Grounded
// on internal/tools/exec's wiring, generalized to the process manager's
// fuller list/poll/log/write/kill/clear/remove surface.
type localTools struct {
	manager *process.Manager
}

func newLocalTools(manager *process.Manager) *localTools {
	return &localTools{manager: manager}
}

func (t *localTools) ExecLocal(ctx context.Context, call models.ToolCall, _ string) (string, bool) {
	if err := compileToolSchemas(); err == nil {
		if err := validateAgainst(execSchema, call.Arguments); err != nil {
			return fmt.Sprintf("invalid exec arguments: %s", err), true
		}
	}

	var req process.ExecRequest
	if err := json.Unmarshal(call.Arguments, &req); err != nil {
		return fmt.Sprintf("invalid exec arguments: %s", err), true
	}

	resp, err := t.manager.Exec(ctx, req)
	if err != nil {
		return err.Error(), true
	}
	if resp.Finished {
		isError := resp.ExitCode != 0
		return resp.Output, isError
	}
	return fmt.Sprintf("process %s still running; tail:\n%s", resp.SessionID, resp.Tail), false
}

type processArgs struct {
	Op        string `json:"op"`
	ID        string `json:"id"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
	TailLines int    `json:"tail_lines"`
	Data      string `json:"data"`
	EOF       bool   `json:"eof"`
}

func (t *localTools) ProcessLocal(_ context.Context, call models.ToolCall, _ string) (string, bool) {
	if err := compileToolSchemas(); err == nil {
		if err := validateAgainst(procSchema, call.Arguments); err != nil {
			return fmt.Sprintf("invalid process arguments: %s", err), true
		}
	}

	var args processArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return fmt.Sprintf("invalid process arguments: %s", err), true
	}

	switch args.Op {
	case "list":
		encoded, _ := json.Marshal(t.manager.List())
		return string(encoded), false
	case "poll":
		info, tail, _, err := t.manager.Poll(args.ID, args.Offset)
		if err != nil {
			return err.Error(), true
		}
		encoded, _ := json.Marshal(struct {
			Info process.Info `json:"info"`
			Tail string       `json:"tail"`
		}{info, tail})
		return string(encoded), false
	case "log":
		_, content, err := t.manager.Log(args.ID, args.Offset, args.Limit, args.TailLines)
		if err != nil {
			return err.Error(), true
		}
		return content, false
	case "write":
		if err := t.manager.Write(args.ID, args.Data, args.EOF); err != nil {
			return err.Error(), true
		}
		return "ok", false
	case "kill":
		if err := t.manager.Kill(args.ID); err != nil {
			return err.Error(), true
		}
		return "killed", false
	case "clear":
		n := t.manager.Clear()
		return fmt.Sprintf("cleared %d finished sessions", n), false
	case "remove":
		if !t.manager.Remove(args.ID) {
			return "unknown process id", true
		}
		return "removed", false
	default:
		return fmt.Sprintf("unknown process op %q", args.Op), true
	}
}

// staticCatalog implements orchestrator.ToolCatalog: the two local tools
// plus one stub tool per capability prefix advertised by every currently
// connected node.
type staticCatalog struct {
	router *nodes.Router
	store  nodes.Store
}

func newStaticCatalog(router *nodes.Router, store nodes.Store) *staticCatalog {
	return &staticCatalog{router: router, store: store}
}

func (c *staticCatalog) Tools(ctx context.Context) []providers.Tool {
	tools := []providers.Tool{
		{Name: "exec", Description: "Run a shell command, foreground or backgrounded.", Schema: json.RawMessage(execArgsSchemaJSON)},
		{Name: "process", Description: "Inspect or control a backgrounded exec session.", Schema: json.RawMessage(processArgsSchemaJSON)},
	}
	if c.router == nil || c.store == nil {
		return tools
	}

	seen := map[string]bool{}
	for _, id := range c.router.ConnectedNodes() {
		record, err := c.store.GetNode(ctx, id)
		if err != nil {
			continue
		}
		for _, prefix := range record.Capabilities {
			if seen[prefix] {
				continue
			}
			seen[prefix] = true
			tools = append(tools, providers.Tool{
				Name:        prefix,
				Description: fmt.Sprintf("Capability %q dispatched to a connected node.", prefix),
				Schema:      json.RawMessage(`{"type":"object"}`),
			})
		}
	}
	return tools
}

// approvalGate implements orchestrator.ApprovalGate over the shared
// approval.Store/Policy: a node dispatch whose capability prefix matches
// the configured require_approval patterns blocks until a human resolves
// it or the store's timeout fires.
type approvalGate struct {
	store  *approval.Store
	policy approval.Policy
}

func newApprovalGate(store *approval.Store, policy approval.Policy) *approvalGate {
	return &approvalGate{store: store, policy: policy}
}

// BuildTurn wires the local exec/process tools, node tool catalog, and
// approval gate into cfg and constructs the orchestrator.Turn those three
// pieces live behind. cmd/relaygate calls this once at startup so both the
// HTTP surface and the cron scheduler drive turns through the same wiring.
func BuildTurn(cfg orchestrator.Config, processes *process.Manager, nodeRouter *nodes.Router, nodeStore nodes.Store, approvals *approval.Store, approvalPolicy approval.Policy) *orchestrator.Turn {
	cfg.LocalTools = newLocalTools(processes)
	cfg.ToolCatalog = newStaticCatalog(nodeRouter, nodeStore)
	cfg.Approvals = newApprovalGate(approvals, approvalPolicy)
	return orchestrator.New(cfg)
}

func (g *approvalGate) RequestApproval(ctx context.Context, sessionKey, toolName string, _ json.RawMessage) (bool, error) {
	requiresApproval, denied := g.policy.Gate(toolName)
	if denied {
		return false, nil
	}
	if !requiresApproval {
		return true, nil
	}
	if g.store == nil {
		return true, nil
	}

	_, respond, _ := g.store.Insert(toolName, sessionKey)
	timeout := g.store.Timeout()
	select {
	case decision := <-respond:
		return decision.Approved, nil
	case <-time.After(timeout):
		return false, fmt.Errorf("approval timed out after %s", timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
