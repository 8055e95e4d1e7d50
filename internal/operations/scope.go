package operations

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/pkg/models"
)

// Scope is what a single dispatch operates against: the active connection's
// client and default namespace, and the policy read for this call.
// Connection is the active connection's revision.
type Scope struct {
	Client           argo.Client
	Connection       string
	DefaultNamespace string
	Policy           models.Policy
}

type base struct {
	scope  Scope
	logger *logging.Logger
	now    func() time.Time
}

func newBase(scope Scope, logger *logging.Logger) base {
	if logger == nil {
		logger = logging.NewNop()
	}
	if strings.TrimSpace(scope.DefaultNamespace) == "" {
		scope.DefaultNamespace = models.DefaultNamespace
	}
	return base{scope: scope, logger: logger, now: time.Now}
}

// namespace resolves a blank argument to the connection default and checks
// the result against the policy. A nil Result means the namespace may be
// used.
func (b base) namespace(ns string) (string, Result) {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		ns = b.scope.DefaultNamespace
	}
	if !NamespaceAllowed(b.scope.Policy, ns) {
		return ns, Errorf(CodeNamespaceDenied, "Namespace '%s' is not permitted by the namespace policy", ns)
	}
	return ns, nil
}

// NamespaceAllowed applies the allow and deny glob lists; deny wins. An
// empty allow list permits every namespace.
func NamespaceAllowed(p models.Policy, ns string) bool {
	for _, pattern := range p.NamespacesDeny {
		if globMatch(pattern, ns) {
			return false
		}
	}
	if len(p.NamespacesAllow) == 0 {
		return true
	}
	for _, pattern := range p.NamespacesAllow {
		if globMatch(pattern, ns) {
			return true
		}
	}
	return false
}

func globMatch(pattern, ns string) bool {
	ok, err := path.Match(pattern, ns)
	return err == nil && ok
}

// backendError maps a client failure to a result. Cancellation by the caller
// is not a failure of the backend.
func backendError(action string, err error) Result {
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled{Reason: fmt.Sprintf("request to %s was cancelled", action)}
	case errors.Is(err, argo.ErrNotFound):
		return Errorf(CodeNotFound, "Failed to %s: %v", action, err)
	default:
		return Errorf(CodeArgoAPI, "Failed to %s: %v", action, err)
	}
}

func joinPairs(m map[string]string, kvSep, sep string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + kvSep + m[k]
	}
	return strings.Join(parts, sep)
}
