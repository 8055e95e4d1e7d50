package operations

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/logging"
)

// Templates implements the WorkflowTemplate and ClusterWorkflowTemplate
// tools. All of them are read-only.
type Templates struct {
	base
}

func NewTemplates(scope Scope, logger *logging.Logger) *Templates {
	return &Templates{base: newBase(scope, logger)}
}

func (t *Templates) List(ctx context.Context, ns, labelSelector string) Result {
	ns, denied := t.namespace(ns)
	if denied != nil {
		return denied
	}
	t.logger.Info("listing workflow templates", "namespace", ns, "label_selector", labelSelector)

	items, err := t.scope.Client.ListWorkflowTemplates(ctx, ns, strings.TrimSpace(labelSelector))
	if err != nil {
		t.logger.Error("failed to list workflow templates", "namespace", ns, "error", err)
		return backendError("list workflow templates", err)
	}
	data := templateListData(items, labelSelector)
	data = append(Fields{{Key: "namespace", Value: ns}}, data...)
	return Success{
		Message: fmt.Sprintf("Found %d workflow template(s) in namespace '%s'", len(items), ns),
		Data:    data,
	}
}

func (t *Templates) Get(ctx context.Context, ns, name string) Result {
	ns, denied := t.namespace(ns)
	if denied != nil {
		return denied
	}
	t.logger.Info("getting workflow template", "namespace", ns, "name", name)

	tpl, err := t.scope.Client.GetWorkflowTemplate(ctx, ns, name)
	if err != nil {
		t.logger.Error("failed to get workflow template", "namespace", ns, "name", name, "error", err)
		return backendError("retrieve workflow template", err)
	}
	return Success{
		Message: fmt.Sprintf("WorkflowTemplate '%s' retrieved", tpl.Name),
		Data:    t.templateData(tpl),
	}
}

func (t *Templates) ListCluster(ctx context.Context, labelSelector string) Result {
	t.logger.Info("listing cluster workflow templates", "label_selector", labelSelector)

	items, err := t.scope.Client.ListClusterWorkflowTemplates(ctx, strings.TrimSpace(labelSelector))
	if err != nil {
		t.logger.Error("failed to list cluster workflow templates", "error", err)
		return backendError("list cluster workflow templates", err)
	}
	return Success{
		Message: fmt.Sprintf("Found %d cluster workflow template(s)", len(items)),
		Data:    templateListData(items, labelSelector),
	}
}

func (t *Templates) GetCluster(ctx context.Context, name string) Result {
	t.logger.Info("getting cluster workflow template", "name", name)

	tpl, err := t.scope.Client.GetClusterWorkflowTemplate(ctx, name)
	if err != nil {
		t.logger.Error("failed to get cluster workflow template", "name", name, "error", err)
		return backendError("retrieve cluster workflow template", err)
	}
	return Success{
		Message: fmt.Sprintf("ClusterWorkflowTemplate '%s' retrieved", tpl.Name),
		Data:    t.templateData(tpl),
	}
}

func templateListData(items []argo.TemplateSummary, labelSelector string) Fields {
	var data Fields
	data.Add("count", strconv.Itoa(len(items)))
	if s := strings.TrimSpace(labelSelector); s != "" {
		data.Add("label_selector", s)
	}
	if len(items) > 0 {
		names := make([]string, len(items))
		for i, item := range items {
			names[i] = item.Name
		}
		data.Add("templates", strings.Join(names, ", "))
	}
	return data
}

func (t *Templates) templateData(tpl *argo.TemplateDetail) Fields {
	var data Fields
	data.Add("name", tpl.Name)
	if tpl.Namespace != "" {
		data.Add("namespace", tpl.Namespace)
	}
	data.Add("created_at", formatTime(tpl.CreatedAt))
	data.Add("entrypoint", orNA(tpl.Entrypoint))
	if len(tpl.Templates) > 0 {
		data.Add("steps", strings.Join(tpl.Templates, ", "))
	}
	if len(tpl.Parameters) > 0 {
		data.Add("parameters", joinPairs(tpl.Parameters, " = ", "\n"))
	}
	if len(tpl.Labels) > 0 {
		data.Add("labels", joinPairs(tpl.Labels, "=", ", "))
	}
	if len(tpl.Spec) > 0 {
		manifest, err := toYAML(tpl.Spec)
		if err != nil {
			t.logger.Warn("failed to render template spec", "name", tpl.Name, "error", err)
		} else {
			data.Add("spec", manifest)
		}
	}
	return data
}
