// Package mcpadapter implements SARK's MCP Protocol Adapter (§4.5): an MCP
// server is a JSON-RPC 2.0 endpoint reached over HTTP, handshaked with
// "initialize", enumerated with "tools/list", and invoked with
// "tools/call". No MCP client library appears anywhere in the example
// corpus, so this talks the documented JSON-RPC wire format directly with
// stdlib net/http + encoding/json, the same way
// itsneelabh-gomind/ai/providers/base.go talks to its upstream provider
// APIs without an SDK.
package mcpadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sark/gateway/pkg/adapter"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type mcpTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Adapter is SARK's MCP Protocol Adapter.
type Adapter struct {
	Client   *http.Client
	auth     adapter.AuthConfig
	wrappers map[string]*adapter.Wrapper
	nextID   int64
}

// New constructs an Adapter.
func New(auth adapter.AuthConfig) *Adapter {
	return &Adapter{
		Client:   &http.Client{Timeout: 30 * time.Second},
		auth:     auth,
		wrappers: make(map[string]*adapter.Wrapper),
	}
}

func (a *Adapter) Protocol() gateway.Protocol { return gateway.ProtocolMCP }

func (a *Adapter) wrapperFor(resource gateway.Resource) *adapter.Wrapper {
	w, ok := a.wrappers[resource.ID]
	if !ok {
		w = adapter.NewWrapper(resource.ID, a.auth, nil, 0, adapter.DefaultRetryConfig(), nil)
		a.wrappers[resource.ID] = w
	}
	return w
}

func (a *Adapter) call(ctx context.Context, endpoint, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "mcpadapter.call", "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "mcpadapter.call", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	headers := map[string]string{}
	a.auth.InjectHeaders(headers)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, gwerrors.New(gwerrors.KindAdapterConnection, "mcpadapter.call", fmt.Sprintf("mcp server returned %d", resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "mcpadapter.call", "decode response", err)
	}
	if rpcResp.Error != nil {
		return nil, gwerrors.New(gwerrors.KindAdapterProtocol, "mcpadapter.call", rpcResp.Error.Message).
			WithDetails(map[string]interface{}{"rpc_code": rpcResp.Error.Code})
	}
	return rpcResp.Result, nil
}

// DiscoverResources handshakes with config["endpoints"] (a list of MCP
// server URLs) via "initialize", registering each as one Resource.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]interface{}) ([]gateway.Resource, error) {
	raw, ok := config["endpoints"].([]interface{})
	if !ok {
		return nil, nil
	}
	var resources []gateway.Resource
	for _, item := range raw {
		endpoint, ok := item.(string)
		if !ok {
			continue
		}
		if _, err := a.call(ctx, endpoint, "initialize", map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"clientInfo":      map[string]string{"name": "sark-gateway"},
		}); err != nil {
			continue // unreachable servers are skipped, not fatal to the discovery pass
		}
		resources = append(resources, gateway.Resource{
			ID:       endpoint,
			Name:     endpoint,
			Protocol: gateway.ProtocolMCP,
			Endpoint: endpoint,
			Status:   gateway.StatusRegistered,
		})
	}
	return resources, nil
}

// GetCapabilities calls "tools/list", one Capability per MCP tool.
func (a *Adapter) GetCapabilities(ctx context.Context, resource gateway.Resource) ([]gateway.Capability, error) {
	raw, err := a.call(ctx, resource.Endpoint, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var listed struct {
		Tools []mcpTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "mcpadapter.GetCapabilities", "decode tools/list result", err)
	}

	caps := make([]gateway.Capability, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		caps = append(caps, gateway.Capability{
			ID:          resource.ID + ":" + tool.Name,
			ResourceID:  resource.ID,
			Name:        tool.Name,
			InputSchema: tool.InputSchema,
			Sensitivity: resource.Sensitivity,
		})
	}
	return caps, nil
}

// ValidateRequest checks required top-level input-schema properties.
func (a *Adapter) ValidateRequest(ctx context.Context, req gateway.InvocationRequest, cap gateway.Capability) ([]gateway.ValidationError, error) {
	required, _ := cap.InputSchema["required"].([]interface{})
	var errs []gateway.ValidationError
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, exists := req.Arguments[name]; !exists {
			errs = append(errs, gateway.ValidationError{Path: name, Message: "required argument missing"})
		}
	}
	return errs, nil
}

// Invoke calls "tools/call" with the capability name and arguments.
func (a *Adapter) Invoke(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (gateway.InvocationResult, error) {
	start := time.Now()
	w := a.wrapperFor(resource)

	var result gateway.InvocationResult
	err := w.Do(ctx, resource.ID, func(ctx context.Context) error {
		raw, callErr := a.call(ctx, resource.Endpoint, "tools/call", map[string]interface{}{
			"name":      cap.Name,
			"arguments": req.Arguments,
		})
		if callErr != nil {
			result = gateway.InvocationResult{
				Success: false,
				Error:   &gateway.AdapterError{Kind: "protocol", Message: callErr.Error()},
			}
			if gwerrors.Retryable(callErr) {
				return callErr
			}
			return nil
		}
		var decoded interface{}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &decoded)
		}
		result = gateway.InvocationResult{Success: true, Result: decoded}
		return nil
	})

	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil && result.Error == nil {
		result.Success = false
		result.Error = &gateway.AdapterError{Kind: "adapter", Message: err.Error()}
	}
	return result, nil
}

// InvokeStreaming issues "tools/call" against a streaming-capable MCP
// server that responds with newline-delimited JSON-RPC notifications, one
// per progress chunk, terminated by the final tools/call response.
func (a *Adapter) InvokeStreaming(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (<-chan gateway.StreamChunk, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: "tools/call", Params: map[string]interface{}{
		"name": cap.Name, "arguments": req.Arguments, "stream": true,
	}})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "mcpadapter.InvokeStreaming", "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, resource.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "mcpadapter.InvokeStreaming", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	out := make(chan gateway.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		seq := 0
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var env rpcResponse
			if err := json.Unmarshal([]byte(line), &env); err != nil {
				continue
			}
			terminal := env.ID == id
			var data interface{}
			_ = json.Unmarshal(env.Result, &data)
			chunk := gateway.StreamChunk{Sequence: seq, Terminal: terminal, Data: data}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			seq++
			if terminal {
				return
			}
		}
	}()
	return out, nil
}

func (a *Adapter) HealthCheck(ctx context.Context, resource gateway.Resource) (bool, error) {
	_, err := a.call(ctx, resource.Endpoint, "ping", nil)
	return err == nil, nil
}

func (a *Adapter) OnResourceUnregistered(ctx context.Context, resource gateway.Resource) {
	delete(a.wrappers, resource.ID)
}

func classifyTransportError(err error) error {
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return gwerrors.Wrap(gwerrors.KindAdapterTimeout, "mcpadapter", "request timed out", err)
	}
	return gwerrors.Wrap(gwerrors.KindAdapterConnection, "mcpadapter", "connection failed", err)
}
