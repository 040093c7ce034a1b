package internal

import (
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// sanitizeIdentifier quotes a table identifier so it can be interpolated
// into DDL/DML safely. Dotted names are treated as schema-qualified.
func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return pgx.Identifier(clean).Sanitize()
}

// projectLockKey hashes a project id into the signed 64-bit keyspace of
// PostgreSQL advisory locks.
func projectLockKey(projectID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(projectID))
	return int64(h.Sum64())
}
