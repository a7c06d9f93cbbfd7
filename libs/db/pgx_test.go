package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConflictClassification(t *testing.T) {
	exclusion := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: "23P01"})
	if !IsExclusionViolation(exclusion) {
		t.Fatal("expected wrapped 23P01 to be an exclusion violation")
	}
	if IsUniqueViolation(exclusion) {
		t.Fatal("23P01 is not a unique violation")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected 23505 to be a unique violation")
	}
	if IsExclusionViolation(errors.New("boom")) {
		t.Fatal("plain errors are not conflicts")
	}
}
