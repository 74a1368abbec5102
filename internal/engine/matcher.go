package engine

import "github.com/miradorstack/mirador-timers/internal/models"

// MatchEvents groups events under every transaction that produced them. An
// event matches when its entry-point namespace equals the transaction
// namespace and the transaction is a wildcard or names the same member.
// Events without a complete entry point are dropped. Keys are normalized
// identities; each list keeps the input order of events.
func MatchEvents(transactions []models.TransactionIdentity, events []models.EventRecord) map[models.TransactionIdentity][]models.EventRecord {
	result := make(map[models.TransactionIdentity][]models.EventRecord)
	if len(events) == 0 || len(transactions) == 0 {
		return result
	}

	byNamespace := make(map[string][]models.TransactionIdentity, len(transactions))
	seen := make(map[models.TransactionIdentity]struct{}, len(transactions))
	for _, tx := range transactions {
		id := tx.Normalized()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		byNamespace[id.Namespace] = append(byNamespace[id.Namespace], id)
	}

	for _, event := range events {
		ep := event.EntryPoint
		if ep == nil || ep.Namespace == "" || ep.Member == "" {
			continue
		}
		for _, id := range byNamespace[models.NormalizeNamespace(ep.Namespace)] {
			if id.IsWildcard() || id.Member == ep.Member {
				result[id] = append(result[id], event)
			}
		}
	}
	return result
}
