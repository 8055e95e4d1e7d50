// Package models defines the domain models shared by the repositories, the
// admin API and the tool server.
package models

import (
	"strconv"
	"strings"
	"time"
)

// AuthType selects how requests to the Argo server are authenticated.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// Valid reports whether t is a known auth type.
func (t AuthType) Valid() bool {
	switch t {
	case AuthTypeNone, AuthTypeBearer, AuthTypeBasic:
		return true
	}
	return false
}

const (
	DefaultNamespace             = "default"
	DefaultRequestTimeoutSeconds = 30
)

// Connection is a named Argo Workflows endpoint plus the credentials used to
// reach it. At most one connection is active at a time.
type Connection struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	BaseURL               string    `json:"base_url"`
	DefaultNamespace      string    `json:"default_namespace"`
	AuthType              AuthType  `json:"auth_type"`
	BearerToken           string    `json:"bearer_token,omitempty"`
	Username              string    `json:"username,omitempty"`
	Password              string    `json:"password,omitempty"`
	InsecureSkipTLSVerify bool      `json:"insecure_skip_tls_verify"`
	TLSServerName         string    `json:"tls_server_name,omitempty"`
	RequestTimeoutSeconds int64     `json:"request_timeout_seconds"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Normalize fills defaults for optional fields.
func (c *Connection) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.TrimSpace(c.DefaultNamespace) == "" {
		c.DefaultNamespace = DefaultNamespace
	}
	if c.AuthType == "" {
		c.AuthType = AuthTypeNone
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
}

// Revision identifies one version of a connection. An edited connection gets
// a new revision, which forces its cached client to be rebuilt.
func (c *Connection) Revision() string {
	return c.ID + "@" + strconv.FormatInt(c.UpdatedAt.UnixNano(), 10)
}

// AuditStatus is the outcome recorded for a tool invocation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusError   AuditStatus = "ERROR"
)

// MaxAuditSummaryLength bounds AuditRecord.ResultSummary.
const MaxAuditSummaryLength = 500

// AuditRecord is one append-only entry of the tool invocation trail.
type AuditRecord struct {
	ID            string      `json:"id"`
	ToolName      string      `json:"tool_name"`
	Arguments     string      `json:"arguments"`
	Status        AuditStatus `json:"status"`
	ResultSummary string      `json:"result_summary"`
	DurationMs    int64       `json:"duration_ms"`
	ExecutedAt    time.Time   `json:"executed_at"`
}

// Setting keys stored in the settings table.
const (
	SettingAllowDestructive    = "allow_destructive"
	SettingAllowMutations      = "allow_mutations"
	SettingRequireConfirmation = "require_confirmation"
	SettingNamespacesAllow     = "namespaces_allow"
	SettingNamespacesDeny      = "namespaces_deny"
)

// DefaultSettings are seeded on migration when a key is absent.
var DefaultSettings = map[string]string{
	SettingAllowDestructive:    "false",
	SettingAllowMutations:      "false",
	SettingRequireConfirmation: "true",
	SettingNamespacesAllow:     "*",
	SettingNamespacesDeny:      "",
}

// IsBooleanSetting reports whether key holds a true/false value.
func IsBooleanSetting(key string) bool {
	switch key {
	case SettingAllowDestructive, SettingAllowMutations, SettingRequireConfirmation:
		return true
	}
	return false
}

// Policy is the permission policy evaluated on every tool call.
type Policy struct {
	AllowDestructive    bool
	AllowMutations      bool
	RequireConfirmation bool
	NamespacesAllow     []string
	NamespacesDeny      []string
}

// DefaultPolicy mirrors DefaultSettings.
func DefaultPolicy() Policy {
	return PolicyFromSettings(nil)
}

// PolicyFromSettings builds a Policy from raw settings, falling back to the
// defaults for missing or unparsable values.
func PolicyFromSettings(settings map[string]string) Policy {
	get := func(key string) string {
		if v, ok := settings[key]; ok {
			return v
		}
		return DefaultSettings[key]
	}
	boolean := func(key string) bool {
		b, err := strconv.ParseBool(strings.TrimSpace(get(key)))
		if err != nil {
			b, _ = strconv.ParseBool(DefaultSettings[key])
		}
		return b
	}
	return Policy{
		AllowDestructive:    boolean(SettingAllowDestructive),
		AllowMutations:      boolean(SettingAllowMutations),
		RequireConfirmation: boolean(SettingRequireConfirmation),
		NamespacesAllow:     splitList(get(SettingNamespacesAllow)),
		NamespacesDeny:      splitList(get(SettingNamespacesDeny)),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
