package argo

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// The JSON shapes below cover only the fields the client reads. Everything
// else is passed through untouched in the Raw/Spec maps.

type objectMeta struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace"`
	Labels            map[string]string `json:"labels"`
	Annotations       map[string]string `json:"annotations"`
	CreationTimestamp string            `json:"creationTimestamp"`
}

type parameterJSON struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	Default   json.RawMessage `json:"default"`
	ValueFrom json.RawMessage `json:"valueFrom"`
}

// resolve returns the parameter's value, then its default, then its
// serialized valueFrom source, then "".
func (p parameterJSON) resolve() string {
	if v, ok := scalar(p.Value); ok {
		return v
	}
	if v, ok := scalar(p.Default); ok {
		return v
	}
	if isPresent(p.ValueFrom) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, p.ValueFrom); err == nil {
			return buf.String()
		}
		return string(p.ValueFrom)
	}
	return ""
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// scalar renders a JSON value as text; strings are unquoted.
func scalar(raw json.RawMessage) (string, bool) {
	if !isPresent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(bytes.TrimSpace(raw)), true
}

type argumentsJSON struct {
	Parameters []parameterJSON `json:"parameters"`
}

func (a argumentsJSON) values() map[string]string {
	out := make(map[string]string, len(a.Parameters))
	for _, p := range a.Parameters {
		if p.Name == "" {
			continue
		}
		out[p.Name] = p.resolve()
	}
	return out
}

type workflowJSON struct {
	Metadata objectMeta `json:"metadata"`
	Spec     struct {
		Arguments argumentsJSON `json:"arguments"`
	} `json:"spec"`
	Status struct {
		Phase      string         `json:"phase"`
		Progress   string         `json:"progress"`
		Message    string         `json:"message"`
		StartedAt  string         `json:"startedAt"`
		FinishedAt string         `json:"finishedAt"`
		Outputs    *argumentsJSON `json:"outputs"`
	} `json:"status"`
}

func (w workflowJSON) summary(defaultNamespace string) (WorkflowSummary, bool) {
	if w.Metadata.Name == "" {
		return WorkflowSummary{}, false
	}
	return WorkflowSummary{
		Name:       w.Metadata.Name,
		Namespace:  orDefault(w.Metadata.Namespace, defaultNamespace),
		Phase:      orDefault(w.Status.Phase, "Unknown"),
		Progress:   w.Status.Progress,
		StartedAt:  parseTime(w.Status.StartedAt),
		FinishedAt: parseTime(w.Status.FinishedAt),
	}, true
}

type cronWorkflowJSON struct {
	Metadata objectMeta `json:"metadata"`
	Spec     struct {
		Schedule          string   `json:"schedule"`
		Schedules         []string `json:"schedules"`
		Timezone          string   `json:"timezone"`
		Suspend           bool     `json:"suspend"`
		ConcurrencyPolicy string   `json:"concurrencyPolicy"`
		WorkflowSpec      struct {
			Entrypoint string `json:"entrypoint"`
		} `json:"workflowSpec"`
	} `json:"spec"`
	Status struct {
		LastScheduledTime string `json:"lastScheduledTime"`
		Active            []struct {
			Name string `json:"name"`
		} `json:"active"`
		Conditions []struct {
			Type    string `json:"type"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"conditions"`
	} `json:"status"`
}

func (c cronWorkflowJSON) summary(defaultNamespace string) CronWorkflowSummary {
	var schedules []string
	for _, s := range c.Spec.Schedules {
		if s = strings.TrimSpace(s); s != "" {
			schedules = append(schedules, s)
		}
	}
	if len(schedules) == 0 && strings.TrimSpace(c.Spec.Schedule) != "" {
		schedules = []string{strings.TrimSpace(c.Spec.Schedule)}
	}
	summary := CronWorkflowSummary{
		Name:              c.Metadata.Name,
		Namespace:         orDefault(c.Metadata.Namespace, defaultNamespace),
		Schedules:         schedules,
		Timezone:          c.Spec.Timezone,
		Suspended:         c.Spec.Suspend,
		ConcurrencyPolicy: c.Spec.ConcurrencyPolicy,
		LastScheduledAt:   parseTime(c.Status.LastScheduledTime),
	}
	for _, a := range c.Status.Active {
		if a.Name != "" {
			summary.Active = append(summary.Active, a.Name)
		}
	}
	return summary
}

type templateJSON struct {
	Metadata objectMeta `json:"metadata"`
	Spec     struct {
		Entrypoint string        `json:"entrypoint"`
		Arguments  argumentsJSON `json:"arguments"`
		Templates  []struct {
			Name string `json:"name"`
		} `json:"templates"`
	} `json:"spec"`
}

func (t templateJSON) summary() TemplateSummary {
	return TemplateSummary{
		Name:      t.Metadata.Name,
		Namespace: t.Metadata.Namespace,
		CreatedAt: parseTime(t.Metadata.CreationTimestamp),
	}
}

// parseTime accepts RFC 3339 timestamps and returns nil for anything else.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
