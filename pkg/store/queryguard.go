package store

import (
	"fmt"
	"strings"
)

// validateReadOnlyQuery enforces the executeQuery contract: exactly one
// statement, and it must be a SELECT (optionally prefixed by a WITH clause).
// The check is syntactic — the store additionally runs these queries inside
// a read-only transaction.
func validateReadOnlyQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("%w: empty query", ErrReadOnlyViolation)
	}

	// A single trailing semicolon is tolerated; any other semicolon means
	// multiple statements.
	trimmed = strings.TrimSuffix(trimmed, ";")
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("%w: multiple statements", ErrReadOnlyViolation)
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("%w: statement must start with SELECT", ErrReadOnlyViolation)
	}

	// Reject write keywords even inside a WITH chain (data-modifying CTEs).
	for _, kw := range []string{"INSERT ", "UPDATE ", "DELETE ", "DROP ", "ALTER ", "TRUNCATE ", "CREATE ", "GRANT ", "COPY "} {
		if strings.Contains(upper, kw) {
			return fmt.Errorf("%w: %s statements are not allowed", ErrReadOnlyViolation, strings.TrimSpace(kw))
		}
	}
	return nil
}
