package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/registry"
)

// AliasMap renames caller-supplied parameter names to the name a tool
// actually expects, applied before dispatch (e.g. "reservation_time" ->
// "time", "party_size" -> "guests").
type AliasMap map[string]string

// Remote describes an HTTP/MCP-like tool reached over the network.
type Remote struct {
	URL string
}

// Invoker dispatches tool calls either to a local handler or a remote
// endpoint, honoring a timeout independent of the transport and the
// caller's cancellation.
type Invoker struct {
	local   *registry.Registry[string, Handler]
	remotes *registry.Registry[string, Remote]
	aliases AliasMap
	client  *http.Client
}

// New builds an Invoker. aliases may be nil.
func New(aliases AliasMap) *Invoker {
	if aliases == nil {
		aliases = AliasMap{}
	}
	return &Invoker{
		local:   registry.New[string, Handler](),
		remotes: registry.New[string, Remote](),
		aliases: aliases,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterLocal adds an in-process handler for toolName.
func (inv *Invoker) RegisterLocal(toolName string, h Handler) {
	inv.local.Register(toolName, h)
}

// RegisterRemote routes toolName to a remote HTTP tool.
func (inv *Invoker) RegisterRemote(toolName string, r Remote) {
	inv.remotes.Register(toolName, r)
}

func (inv *Invoker) remapParameters(params map[string]any) map[string]any {
	if len(inv.aliases) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if renamed, ok := inv.aliases[k]; ok {
			out[renamed] = v
			continue
		}
		out[k] = v
	}
	return out
}

// Invoke dispatches toolName with params, enforcing timeoutMs independently
// of the transport, and passing (executionID, stepID) in a header so tools
// can key their own idempotency on the pair.
func (inv *Invoker) Invoke(ctx context.Context, toolName string, params map[string]any, timeoutMs int, executionID, stepID string) Result {
	start := time.Now()
	params = inv.remapParameters(params)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	result := inv.dispatch(ctx, toolName, params, executionID, stepID)
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

func (inv *Invoker) dispatch(ctx context.Context, toolName string, params map[string]any, executionID, stepID string) Result {
	if handler, ok := inv.local.Get(toolName); ok {
		return inv.invokeLocal(ctx, handler, params)
	}
	if remote, ok := inv.remotes.Get(toolName); ok {
		return inv.invokeRemote(ctx, remote, toolName, params, executionID, stepID)
	}
	return Result{Success: false, Error: fmt.Sprintf("unknown tool: %s", toolName)}
}

func (inv *Invoker) invokeLocal(ctx context.Context, handler Handler, params map[string]any) Result {
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := handler(ctx, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{Success: false, Error: "timeout"}
	case o := <-done:
		if o.err != nil {
			return Result{Success: false, Error: o.err.Error()}
		}
		return o.result
	}
}

func (inv *Invoker) invokeRemote(ctx context.Context, remote Remote, toolName string, params map[string]any, executionID, stepID string) Result {
	body, err := json.Marshal(Call{Name: toolName, Arguments: params})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("marshal call: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, remote.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", executionID+":"+stepID)

	resp, err := inv.client.Do(req)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode >= 300 {
		return Result{Success: false, Error: fmt.Sprintf("tool %s responded %d: %s", toolName, resp.StatusCode, string(data))}
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("unmarshal response: %v", err)}
	}
	return result
}
