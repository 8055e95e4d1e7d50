package argo

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/pkg/models"
)

const (
	meterName        = "argo-workflows-mcp/argo"
	maxErrorBodySize = 2048
	maxLogLineSize   = 1 << 20
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("argo: client closed")

// Config describes how to reach one Argo server.
type Config struct {
	BaseURL          string
	DefaultNamespace string
	BearerToken      string
	Username         string
	Password         string
	// InsecureSkipTLSVerify disables certificate validation. Opt-in only.
	InsecureSkipTLSVerify bool
	// TLSServerName overrides the SNI / verification host name.
	TLSServerName string
	// Timeout bounds dialing, the TLS handshake, waiting for headers and the
	// whole request. Values below one second are raised to one second.
	Timeout time.Duration
}

// ConfigFromConnection maps a stored connection to a client Config. Only the
// credentials matching the connection's auth type are carried over.
func ConfigFromConnection(conn *models.Connection) Config {
	cfg := Config{
		BaseURL:               conn.BaseURL,
		DefaultNamespace:      conn.DefaultNamespace,
		InsecureSkipTLSVerify: conn.InsecureSkipTLSVerify,
		TLSServerName:         conn.TLSServerName,
		Timeout:               time.Duration(conn.RequestTimeoutSeconds) * time.Second,
	}
	switch conn.AuthType {
	case models.AuthTypeBearer:
		cfg.BearerToken = conn.BearerToken
	case models.AuthTypeBasic:
		cfg.Username = conn.Username
		cfg.Password = conn.Password
	}
	return cfg
}

// HTTPClient implements Client over the Argo server REST API.
type HTTPClient struct {
	baseURL          *url.URL
	defaultNamespace string
	authHeader       string
	httpClient       *http.Client
	transport        *http.Transport
	closed           atomic.Bool

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewHTTPClient validates cfg and builds a client. It does not contact the
// server.
func NewHTTPClient(cfg Config, logger *logging.Logger) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", cfg.BaseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""

	timeout := cfg.Timeout
	if timeout < time.Second {
		timeout = time.Second
	}

	if cfg.InsecureSkipTLSVerify && logger != nil {
		logger.Warn("TLS certificate verification is DISABLED for Argo connection",
			"base_url", base.String(),
			"tls_server_name", cfg.TLSServerName,
		)
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         cfg.TLSServerName,
			InsecureSkipVerify: cfg.InsecureSkipTLSVerify, //nolint:gosec // explicit per-connection opt-in
		},
	}

	meter := otel.Meter(meterName)
	requests, err := meter.Int64Counter("argo.client.requests",
		metric.WithDescription("Requests sent to the Argo server"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	duration, err := meter.Float64Histogram("argo.client.request.duration",
		metric.WithDescription("Latency of requests sent to the Argo server"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	defaultNamespace := cfg.DefaultNamespace
	if defaultNamespace == "" {
		defaultNamespace = models.DefaultNamespace
	}

	return &HTTPClient{
		baseURL:          base,
		defaultNamespace: defaultNamespace,
		authHeader:       authorizationHeader(cfg),
		httpClient:       &http.Client{Transport: transport, Timeout: timeout},
		transport:        transport,
		requests:         requests,
		duration:         duration,
	}, nil
}

// authorizationHeader returns the Authorization value. A bearer token wins
// over basic credentials.
func authorizationHeader(cfg Config) string {
	switch {
	case cfg.BearerToken != "":
		return "Bearer " + cfg.BearerToken
	case cfg.Username != "" && cfg.Password != "":
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(cfg.Username, cfg.Password)
		return req.Header.Get("Authorization")
	}
	return ""
}

// Close releases idle connections. Calls made afterwards fail with
// ErrClientClosed.
func (c *HTTPClient) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.transport.CloseIdleConnections()
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *HTTPClient) Closed() bool {
	return c.closed.Load()
}

// ListWorkflows implements Client.
func (c *HTTPClient) ListWorkflows(ctx context.Context, namespace string, limit int, labelSelector, fieldSelector string) ([]WorkflowSummary, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("listOptions.limit", strconv.Itoa(limit))
	}
	if labelSelector != "" {
		query.Set("listOptions.labelSelector", labelSelector)
	}
	if fieldSelector != "" {
		query.Set("listOptions.fieldSelector", fieldSelector)
	}

	var list struct {
		Items []workflowJSON `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/v1/workflows/{namespace}", query, &list, namespace); err != nil {
		return nil, err
	}

	workflows := make([]WorkflowSummary, 0, len(list.Items))
	for _, item := range list.Items {
		if summary, ok := item.summary(c.defaultNamespace); ok {
			workflows = append(workflows, summary)
		}
	}
	return workflows, nil
}

// GetWorkflow implements Client.
func (c *HTTPClient) GetWorkflow(ctx context.Context, namespace, name string) (*WorkflowDetail, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/workflows/{namespace}/{name}", nil, nil, namespace, name)
	if err != nil {
		return nil, err
	}
	var wf workflowJSON
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s/%s: %w", namespace, name, err)
	}
	summary, ok := wf.summary(c.defaultNamespace)
	if !ok {
		return nil, fmt.Errorf("workflow metadata missing name for %s/%s: %w", namespace, name, ErrMalformedResponse)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s/%s: %w", namespace, name, err)
	}

	detail := &WorkflowDetail{
		WorkflowSummary: summary,
		Message:         wf.Status.Message,
		Labels:          nonNilMap(wf.Metadata.Labels),
		Annotations:     nonNilMap(wf.Metadata.Annotations),
		Parameters:      wf.Spec.Arguments.values(),
		Outputs:         map[string]string{},
		Raw:             raw,
	}
	if wf.Status.Outputs != nil {
		detail.Outputs = wf.Status.Outputs.values()
	}
	return detail, nil
}

// GetWorkflowLogs implements Client. The server streams one JSON object per
// line; lines that are blank or fail to parse are skipped.
func (c *HTTPClient) GetWorkflowLogs(ctx context.Context, namespace, workflowName, podName, container string) ([]LogEntry, error) {
	query := url.Values{}
	if podName != "" {
		query.Set("podName", podName)
	}
	if container != "" {
		query.Set("logOptions.container", container)
	}
	body, err := c.do(ctx, http.MethodGet, "/api/v1/workflows/{namespace}/{name}/log", query, nil, namespace, workflowName)
	if err != nil {
		return nil, err
	}
	return parseLogStream(body), nil
}

func parseLogStream(body []byte) []LogEntry {
	var entries []LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var envelope struct {
			Result *struct {
				Content *string `json:"content"`
				PodName string  `json:"podName"`
			} `json:"result"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			continue
		}
		if envelope.Result == nil || envelope.Result.Content == nil {
			continue
		}
		entries = append(entries, LogEntry{
			PodName: envelope.Result.PodName,
			Content: *envelope.Result.Content,
		})
	}
	return entries
}

// TerminateWorkflow implements Client.
func (c *HTTPClient) TerminateWorkflow(ctx context.Context, namespace, name string) (*WorkflowSummary, error) {
	payload := map[string]any{"name": name, "namespace": namespace}
	return c.putWorkflow(ctx, "/api/v1/workflows/{namespace}/{name}/terminate", payload, namespace, name)
}

// RetryWorkflow implements Client.
func (c *HTTPClient) RetryWorkflow(ctx context.Context, namespace, name string, restartSuccessful bool) (*WorkflowSummary, error) {
	payload := map[string]any{"name": name, "namespace": namespace, "restartSuccessful": restartSuccessful}
	return c.putWorkflow(ctx, "/api/v1/workflows/{namespace}/{name}/retry", payload, namespace, name)
}

func (c *HTTPClient) putWorkflow(ctx context.Context, route string, payload any, namespace, name string) (*WorkflowSummary, error) {
	body, err := c.do(ctx, http.MethodPut, route, nil, payload, namespace, name)
	if err != nil {
		return nil, err
	}
	var wf workflowJSON
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s/%s: %w", namespace, name, err)
	}
	summary, ok := wf.summary(c.defaultNamespace)
	if !ok {
		summary = WorkflowSummary{Name: name, Namespace: namespace}
	}
	return &summary, nil
}

// ListCronWorkflows implements Client.
func (c *HTTPClient) ListCronWorkflows(ctx context.Context, namespace string) ([]CronWorkflowSummary, error) {
	var list struct {
		Items []cronWorkflowJSON `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/v1/cron-workflows/{namespace}", nil, &list, namespace); err != nil {
		return nil, err
	}
	out := make([]CronWorkflowSummary, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Metadata.Name == "" {
			continue
		}
		out = append(out, item.summary(c.defaultNamespace))
	}
	return out, nil
}

// GetCronWorkflow implements Client.
func (c *HTTPClient) GetCronWorkflow(ctx context.Context, namespace, name string) (*CronWorkflowDetail, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/cron-workflows/{namespace}/{name}", nil, nil, namespace, name)
	if err != nil {
		return nil, err
	}
	var cw cronWorkflowJSON
	if err := json.Unmarshal(body, &cw); err != nil {
		return nil, fmt.Errorf("failed to decode cron workflow %s/%s: %w", namespace, name, err)
	}
	if cw.Metadata.Name == "" {
		return nil, fmt.Errorf("cron workflow metadata missing name for %s/%s: %w", namespace, name, ErrMalformedResponse)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode cron workflow %s/%s: %w", namespace, name, err)
	}
	detail := &CronWorkflowDetail{
		CronWorkflowSummary: cw.summary(c.defaultNamespace),
		Labels:              nonNilMap(cw.Metadata.Labels),
		Entrypoint:          cw.Spec.WorkflowSpec.Entrypoint,
		Raw:                 raw,
	}
	for _, cond := range cw.Status.Conditions {
		text := cond.Type + "=" + cond.Status
		if cond.Message != "" {
			text += " (" + cond.Message + ")"
		}
		detail.Conditions = append(detail.Conditions, text)
	}
	return detail, nil
}

// SuspendCronWorkflow implements Client.
func (c *HTTPClient) SuspendCronWorkflow(ctx context.Context, namespace, name string) (*CronWorkflowSummary, error) {
	return c.putCronWorkflow(ctx, "/api/v1/cron-workflows/{namespace}/{name}/suspend", namespace, name)
}

// ResumeCronWorkflow implements Client.
func (c *HTTPClient) ResumeCronWorkflow(ctx context.Context, namespace, name string) (*CronWorkflowSummary, error) {
	return c.putCronWorkflow(ctx, "/api/v1/cron-workflows/{namespace}/{name}/resume", namespace, name)
}

func (c *HTTPClient) putCronWorkflow(ctx context.Context, route, namespace, name string) (*CronWorkflowSummary, error) {
	payload := map[string]any{"name": name, "namespace": namespace}
	body, err := c.do(ctx, http.MethodPut, route, nil, payload, namespace, name)
	if err != nil {
		return nil, err
	}
	var cw cronWorkflowJSON
	if err := json.Unmarshal(body, &cw); err != nil {
		return nil, fmt.Errorf("failed to decode cron workflow %s/%s: %w", namespace, name, err)
	}
	summary := cw.summary(c.defaultNamespace)
	if summary.Name == "" {
		summary.Name = name
	}
	return &summary, nil
}

// ListWorkflowTemplates implements Client.
func (c *HTTPClient) ListWorkflowTemplates(ctx context.Context, namespace, labelSelector string) ([]TemplateSummary, error) {
	return c.listTemplates(ctx, "/api/v1/workflow-templates/{namespace}", labelSelector, namespace)
}

// ListClusterWorkflowTemplates implements Client.
func (c *HTTPClient) ListClusterWorkflowTemplates(ctx context.Context, labelSelector string) ([]TemplateSummary, error) {
	return c.listTemplates(ctx, "/api/v1/cluster-workflow-templates", labelSelector)
}

func (c *HTTPClient) listTemplates(ctx context.Context, route, labelSelector string, segments ...string) ([]TemplateSummary, error) {
	query := url.Values{}
	if labelSelector != "" {
		query.Set("listOptions.labelSelector", labelSelector)
	}
	var list struct {
		Items []templateJSON `json:"items"`
	}
	if err := c.getJSON(ctx, route, query, &list, segments...); err != nil {
		return nil, err
	}
	out := make([]TemplateSummary, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Metadata.Name == "" {
			continue
		}
		out = append(out, item.summary())
	}
	return out, nil
}

// GetWorkflowTemplate implements Client.
func (c *HTTPClient) GetWorkflowTemplate(ctx context.Context, namespace, name string) (*TemplateDetail, error) {
	return c.getTemplate(ctx, "/api/v1/workflow-templates/{namespace}/{name}", namespace, name)
}

// GetClusterWorkflowTemplate implements Client.
func (c *HTTPClient) GetClusterWorkflowTemplate(ctx context.Context, name string) (*TemplateDetail, error) {
	return c.getTemplate(ctx, "/api/v1/cluster-workflow-templates/{name}", name)
}

func (c *HTTPClient) getTemplate(ctx context.Context, route string, segments ...string) (*TemplateDetail, error) {
	id := strings.Join(segments, "/")
	body, err := c.do(ctx, http.MethodGet, route, nil, nil, segments...)
	if err != nil {
		return nil, err
	}
	var tpl templateJSON
	if err := json.Unmarshal(body, &tpl); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	if tpl.Metadata.Name == "" {
		return nil, fmt.Errorf("template metadata missing name for %s: %w", id, ErrMalformedResponse)
	}
	var raw struct {
		Spec map[string]any `json:"spec"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	detail := &TemplateDetail{
		TemplateSummary: tpl.summary(),
		Labels:          nonNilMap(tpl.Metadata.Labels),
		Entrypoint:      tpl.Spec.Entrypoint,
		Parameters:      tpl.Spec.Arguments.values(),
		Spec:            raw.Spec,
	}
	for _, t := range tpl.Spec.Templates {
		detail.Templates = append(detail.Templates, t.Name)
	}
	return detail, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, route string, query url.Values, out any, segments ...string) error {
	body, err := c.do(ctx, http.MethodGet, route, query, nil, segments...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", route, err)
	}
	return nil
}

// do sends one request. route is a template whose {placeholders} are filled,
// in order, with the path-escaped segments; the template itself is used as
// the metric attribute so cardinality stays bounded.
func (c *HTTPClient) do(ctx context.Context, method, route string, query url.Values, payload any, segments ...string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	target := c.baseURL.String() + expandRoute(route, segments)
	if q := query.Encode(); q != "" {
		target += "?" + q
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	status := "error"
	defer func() {
		attrs := metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("route", route),
			attribute.String("status", status),
		)
		c.requests.Add(context.WithoutCancel(ctx), 1, attrs)
		c.duration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds(), attrs)
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncateBody(strings.TrimSpace(string(body)), maxErrorBodySize)
		return nil, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: msg}
	}
	return body, nil
}

// truncateBody cuts s to at most max bytes without splitting a UTF-8
// sequence.
func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func expandRoute(route string, segments []string) string {
	var b strings.Builder
	i := 0
	for {
		open := strings.IndexByte(route, '{')
		if open < 0 {
			b.WriteString(route)
			return b.String()
		}
		end := strings.IndexByte(route[open:], '}')
		if end < 0 {
			b.WriteString(route)
			return b.String()
		}
		b.WriteString(route[:open])
		if i < len(segments) {
			b.WriteString(url.PathEscape(segments[i]))
			i++
		}
		route = route[open+end+1:]
	}
}
