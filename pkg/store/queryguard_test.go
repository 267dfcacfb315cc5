package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReadOnlyQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"plain select", "SELECT * FROM reports", false},
		{"lowercase select", "select id from jobs where status = $1", false},
		{"with clause", "WITH recent AS (SELECT * FROM reports) SELECT * FROM recent", false},
		{"trailing semicolon", "SELECT 1;", false},
		{"leading whitespace", "   SELECT 1", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"multiple statements", "SELECT 1; SELECT 2", true},
		{"insert", "INSERT INTO reports (query) VALUES ('x')", true},
		{"update", "UPDATE jobs SET status = 'failed'", true},
		{"delete", "DELETE FROM reports", true},
		{"drop", "DROP TABLE reports", true},
		{"data-modifying cte", "WITH d AS (DELETE FROM reports RETURNING id) SELECT * FROM d", true},
		{"piggybacked write", "SELECT 1; DROP TABLE reports;", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReadOnlyQuery(tt.query)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrReadOnlyViolation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
