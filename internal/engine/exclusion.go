package engine

import (
	"strings"

	"github.com/miradorstack/mirador-timers/internal/models"
)

// IsExcluded reports whether redaction rules suppress the transaction. Nil
// rules exclude nothing. A namespace prefix match or a simple class name
// match each exclude on their own; both sides are normalized first.
func IsExcluded(id models.TransactionIdentity, rules *models.ExclusionRules) bool {
	if rules == nil {
		return false
	}

	namespace := models.NormalizeNamespace(id.Namespace)
	for _, prefix := range rules.PackagePrefixes {
		prefix = models.NormalizeNamespace(prefix)
		if prefix != "" && strings.HasPrefix(namespace, prefix) {
			return true
		}
	}

	simple := models.SimpleClassName(namespace)
	if simple == "" {
		return false
	}
	for _, name := range rules.ClassNames {
		if models.SimpleClassName(name) == simple {
			return true
		}
	}
	return false
}
