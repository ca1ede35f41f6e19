package assignments

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// importColumns is the expected CSV layout. There is deliberately no
// valid_until column: imported assignments are always open-ended, so a
// malformed or timezone-ambiguous date in a bulk file can never produce a
// silently short-lived grant.
var importColumns = []string{"user_id", "role_id", "scope", "scope_values", "reason"}

// ImportCSV reads assignment rows from r and applies each through Assign.
// Rows are independent: a bad row is reported in its result and the import
// moves on. The first row is skipped when it matches the header layout.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, assignedBy string) ([]ImportRowResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var results []ImportRowResult
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			results = append(results, ImportRowResult{Line: line, Error: fmt.Sprintf("malformed row: %v", err)})
			continue
		}
		if line == 1 && isImportHeader(record) {
			continue
		}
		if len(record) < 3 {
			results = append(results, ImportRowResult{Line: line, Error: "expected at least user_id, role_id, scope"})
			continue
		}

		req := AssignRequest{
			UserID: strings.TrimSpace(record[0]),
			RoleID: strings.TrimSpace(record[1]),
			Scope:  strings.TrimSpace(record[2]),
		}
		if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
			for _, v := range strings.Split(record[3], ";") {
				if v = strings.TrimSpace(v); v != "" {
					req.ScopeValues = append(req.ScopeValues, v)
				}
			}
		}
		if len(record) > 4 {
			req.Reason = strings.TrimSpace(record[4])
		}

		res := ImportRowResult{Line: line, UserID: req.UserID, RoleID: req.RoleID}
		if req.UserID == "" || req.RoleID == "" {
			res.Error = "user_id and role_id are required"
			results = append(results, res)
			continue
		}
		assignment, err := s.Assign(ctx, req, assignedBy)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
			res.AssignmentID = assignment.ID
		}
		results = append(results, res)
	}
	return results, nil
}

func isImportHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	for i, cell := range record {
		if i >= len(importColumns) {
			return false
		}
		if !strings.EqualFold(strings.TrimSpace(cell), importColumns[i]) {
			return false
		}
	}
	return true
}
