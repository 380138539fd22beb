// Package httpadapter implements SARK's HTTP/REST Protocol Adapter (§4.5):
// resource discovery via an OpenAPI document, one Capability per
// method+path operation, and invocation via a plain net/http round trip
// wrapped in the shared adapter.Wrapper. The bare net/http client (no
// third-party HTTP client library) follows
// itsneelabh-gomind/ai/providers/base.go's BaseClient, which is the
// teacher's own choice for outbound HTTP across the whole provider layer.
package httpadapter

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sark/gateway/pkg/adapter"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// openAPIDoc is the minimal subset of an OpenAPI 3 document this adapter
// understands: paths → operations → parameters/requestBody.
type openAPIDoc struct {
	Paths map[string]map[string]openAPIOperation `json:"paths"`
}

type openAPIOperation struct {
	OperationID string                 `json:"operationId"`
	Parameters  []openAPIParameter     `json:"parameters"`
	RequestBody map[string]interface{} `json:"requestBody"`
}

type openAPIParameter struct {
	Name     string `json:"name"`
	In       string `json:"in"`
	Required bool   `json:"required"`
}

// Adapter is SARK's HTTP/REST Protocol Adapter. One Adapter instance serves
// one upstream authentication configuration, per §4.5 ("authentication
// injector" is an adapter-instance-level policy); the Adapter Registry
// holds one Adapter per distinctly-configured upstream.
type Adapter struct {
	Client   *http.Client
	auth     adapter.AuthConfig
	wrappers map[string]*adapter.Wrapper // resource ID -> wrapper
}

// New constructs an Adapter. mtls is applied to the transport when set.
func New(auth adapter.AuthConfig) (*Adapter, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	if auth.Kind == adapter.AuthMTLS {
		tlsCfg, err := mtlsConfig(auth)
		if err != nil {
			return nil, err
		}
		client.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}
	return &Adapter{Client: client, auth: auth, wrappers: make(map[string]*adapter.Wrapper)}, nil
}

func mtlsConfig(auth adapter.AuthConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterConnection, "httpadapter.mtls", "load client cert", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func (a *Adapter) Protocol() gateway.Protocol { return gateway.ProtocolHTTP }

func (a *Adapter) wrapperFor(resource gateway.Resource) *adapter.Wrapper {
	w, ok := a.wrappers[resource.ID]
	if !ok {
		w = adapter.NewWrapper(resource.ID, a.auth, nil, 0, adapter.DefaultRetryConfig(), nil)
		a.wrappers[resource.ID] = w
	}
	return w
}

// DiscoverResources treats config["resources"] as a pre-enumerated list of
// {id, name, endpoint} entries; discovery against a live service catalog
// would live here in a production deployment with a concrete catalog API.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]interface{}) ([]gateway.Resource, error) {
	raw, ok := config["resources"].([]interface{})
	if !ok {
		return nil, nil
	}
	resources := make([]gateway.Resource, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		resources = append(resources, gateway.Resource{
			ID:       fmt.Sprint(m["id"]),
			Name:     fmt.Sprint(m["name"]),
			Protocol: gateway.ProtocolHTTP,
			Endpoint: fmt.Sprint(m["endpoint"]),
			Status:   gateway.StatusRegistered,
		})
	}
	return resources, nil
}

// GetCapabilities fetches resource.Endpoint + "/openapi.json" and builds
// one Capability per method+path operation.
func (a *Adapter) GetCapabilities(ctx context.Context, resource gateway.Resource) ([]gateway.Capability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(resource.Endpoint, "/")+"/openapi.json", nil)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "httpadapter.GetCapabilities", "build request", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterConnection, "httpadapter.GetCapabilities", "fetch openapi document", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, gwerrors.New(gwerrors.KindAdapterProtocol, "httpadapter.GetCapabilities", fmt.Sprintf("openapi fetch returned %d", resp.StatusCode))
	}

	var doc openAPIDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "httpadapter.GetCapabilities", "decode openapi document", err)
	}

	var caps []gateway.Capability
	for path, ops := range doc.Paths {
		for method, op := range ops {
			name := strings.ToUpper(method) + " " + path
			caps = append(caps, gateway.Capability{
				ID:          resource.ID + ":" + name,
				ResourceID:  resource.ID,
				Name:        name,
				InputSchema: parameterSchema(op),
				Sensitivity: resource.Sensitivity,
			})
		}
	}
	return caps, nil
}

func parameterSchema(op openAPIOperation) map[string]interface{} {
	required := make([]string, 0, len(op.Parameters))
	props := make(map[string]interface{}, len(op.Parameters))
	for _, p := range op.Parameters {
		props[p.Name] = map[string]interface{}{"in": p.In}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{"type": "object", "properties": props, "required": required}
}

// ValidateRequest checks that every required property named in the
// capability's input schema is present in req.Arguments.
func (a *Adapter) ValidateRequest(ctx context.Context, req gateway.InvocationRequest, cap gateway.Capability) ([]gateway.ValidationError, error) {
	required, _ := cap.InputSchema["required"].([]string)
	var errs []gateway.ValidationError
	for _, name := range required {
		if _, ok := req.Arguments[name]; !ok {
			errs = append(errs, gateway.ValidationError{Path: name, Message: "required argument missing"})
		}
	}
	return errs, nil
}

// Invoke issues the HTTP round trip the capability's method+path names.
// Arguments whose names match {placeholders} in the path are substituted
// into it; for methods other than GET and DELETE all arguments are also
// sent as a JSON body. GET and DELETE requests carry no body, and arguments
// are not added to the query string.
func (a *Adapter) Invoke(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (gateway.InvocationResult, error) {
	method, path, ok := splitCapabilityName(cap.Name)
	if !ok {
		return gateway.InvocationResult{}, gwerrors.New(gwerrors.KindAdapterProtocol, "httpadapter.Invoke", "malformed capability name")
	}
	path = substitutePathParams(path, req.Arguments)

	start := time.Now()
	w := a.wrapperFor(resource)

	var result gateway.InvocationResult
	err := w.Do(ctx, resource.ID, func(ctx context.Context) error {
		httpReq, buildErr := buildHTTPRequest(ctx, method, strings.TrimRight(resource.Endpoint, "/")+path, req.Arguments, a.auth)
		if buildErr != nil {
			return gwerrors.Wrap(gwerrors.KindAdapterProtocol, "httpadapter.Invoke", "build request", buildErr)
		}
		resp, doErr := a.Client.Do(httpReq)
		if doErr != nil {
			return classifyTransportError(doErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return gwerrors.Wrap(gwerrors.KindAdapterConnection, "httpadapter.Invoke", "read response body", readErr)
		}

		if resp.StatusCode >= 500 {
			return gwerrors.New(gwerrors.KindAdapterConnection, "httpadapter.Invoke", fmt.Sprintf("upstream returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			result = gateway.InvocationResult{
				Success: false,
				Error:   &gateway.AdapterError{Kind: "protocol", Message: string(body), Code: fmt.Sprint(resp.StatusCode)},
			}
			return nil
		}

		var decoded interface{}
		if len(body) > 0 {
			_ = json.Unmarshal(body, &decoded)
		}
		result = gateway.InvocationResult{Success: true, Result: decoded}
		return nil
	})

	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil && result.Error == nil {
		result.Success = false
		result.Error = &gateway.AdapterError{Kind: "adapter", Message: err.Error()}
		return result, err
	}
	return result, nil
}

// InvokeStreaming reads the response body as newline-delimited JSON chunks,
// emitting one StreamChunk per line and respecting cooperative
// backpressure (the adapter blocks on send until the caller receives).
func (a *Adapter) InvokeStreaming(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (<-chan gateway.StreamChunk, error) {
	method, path, ok := splitCapabilityName(cap.Name)
	if !ok {
		return nil, gwerrors.New(gwerrors.KindAdapterProtocol, "httpadapter.InvokeStreaming", "malformed capability name")
	}
	path = substitutePathParams(path, req.Arguments)

	httpReq, err := buildHTTPRequest(ctx, method, strings.TrimRight(resource.Endpoint, "/")+path, req.Arguments, a.auth)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterProtocol, "httpadapter.InvokeStreaming", "build request", err)
	}
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
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var data interface{}
			_ = json.Unmarshal(line, &data)
			chunk := gateway.StreamChunk{Sequence: seq, Data: data}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			seq++
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- gateway.StreamChunk{Sequence: seq, Terminal: true, Err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- gateway.StreamChunk{Sequence: seq, Terminal: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (a *Adapter) HealthCheck(ctx context.Context, resource gateway.Resource) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(resource.Endpoint, "/")+"/healthz", nil)
	if err != nil {
		return false, nil
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (a *Adapter) OnResourceUnregistered(ctx context.Context, resource gateway.Resource) {
	delete(a.wrappers, resource.ID)
}

func splitCapabilityName(name string) (method, path string, ok bool) {
	parts := strings.SplitN(name, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func substitutePathParams(path string, args map[string]interface{}) string {
	for k, v := range args {
		path = strings.ReplaceAll(path, "{"+k+"}", fmt.Sprint(v))
	}
	return path
}

func buildHTTPRequest(ctx context.Context, method, url string, args map[string]interface{}, auth adapter.AuthConfig) (*http.Request, error) {
	var body io.Reader
	if method != http.MethodGet && method != http.MethodDelete && len(args) > 0 {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	headers := map[string]string{}
	auth.InjectHeaders(headers)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func classifyTransportError(err error) error {
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return gwerrors.Wrap(gwerrors.KindAdapterTimeout, "httpadapter", "request timed out", err)
	}
	return gwerrors.Wrap(gwerrors.KindAdapterConnection, "httpadapter", "connection failed", err)
}
