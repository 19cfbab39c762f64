package types

import "strings"

// JobSortField identifies a sortable column on job listings.
type JobSortField string

// SortDirection is asc or desc.
type SortDirection string

// Job sort fields and directions
const (
	SortFieldCreated JobSortField = "created"
	SortFieldUpdated JobSortField = "updated"
	SortFieldStatus  JobSortField = "status"
	SortFieldID      JobSortField = "id"

	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// JobSortOption pairs a field with a direction.
type JobSortOption struct {
	Field     JobSortField
	Direction SortDirection
}

// DefaultJobSortOptions returns the default ordering for job queries:
// newest first with id as a stable tiebreaker.
func DefaultJobSortOptions() []JobSortOption {
	return []JobSortOption{
		{Field: SortFieldCreated, Direction: SortDesc},
		{Field: SortFieldID, Direction: SortDesc},
	}
}

// ParseJobSortOrder converts a comma-delimited string (e.g. "created-desc,status-asc")
// into a slice of JobSortOption values. Unrecognised fields or directions are skipped.
func ParseJobSortOrder(raw string) []JobSortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	options := make([]JobSortOption, 0, len(parts))
	seen := make(map[JobSortField]bool)

	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		field, dir := splitSortToken(token)
		if field == "" || dir == "" {
			continue
		}

		sortField := mapSortField(field)
		if sortField == "" {
			continue
		}

		direction := mapSortDirection(dir)
		if direction == "" {
			continue
		}

		if seen[sortField] {
			continue
		}
		seen[sortField] = true

		options = append(options, JobSortOption{
			Field:     sortField,
			Direction: direction,
		})
	}

	return options
}

// EncodeJobSortOrder converts a slice of JobSortOption values into a canonical
// string representation suitable for flags and query parameters.
func EncodeJobSortOrder(options []JobSortOption) string {
	if len(options) == 0 {
		return ""
	}

	tokens := make([]string, 0, len(options))
	for _, opt := range options {
		field := encodeSortField(opt.Field)
		dir := encodeSortDirection(opt.Direction)
		if field == "" || dir == "" {
			continue
		}
		tokens = append(tokens, field+"-"+dir)
	}
	return strings.Join(tokens, ",")
}

func splitSortToken(token string) (string, string) {
	if idx := strings.IndexAny(token, ":-"); idx >= 0 {
		left := strings.TrimSpace(token[:idx])
		right := strings.TrimSpace(token[idx+1:])
		return strings.ToLower(left), strings.ToLower(right)
	}
	token = strings.ToLower(token)
	switch token {
	case "updatedasc":
		return "updated", "asc"
	case "updateddesc":
		return "updated", "desc"
	case "createdasc":
		return "created", "asc"
	case "createddesc":
		return "created", "desc"
	default:
		return "", ""
	}
}

func mapSortField(raw string) JobSortField {
	switch strings.ToLower(raw) {
	case "updated", "updated_at":
		return SortFieldUpdated
	case "created", "created_at":
		return SortFieldCreated
	case "status":
		return SortFieldStatus
	case "id":
		return SortFieldID
	default:
		return ""
	}
}

func mapSortDirection(raw string) SortDirection {
	switch strings.ToLower(raw) {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	default:
		return ""
	}
}

func encodeSortField(field JobSortField) string {
	switch field {
	case SortFieldUpdated:
		return "updated"
	case SortFieldCreated:
		return "created"
	case SortFieldStatus:
		return "status"
	case SortFieldID:
		return "id"
	default:
		return ""
	}
}

func encodeSortDirection(dir SortDirection) string {
	switch dir {
	case SortAsc:
		return "asc"
	case SortDesc:
		return "desc"
	default:
		return ""
	}
}

// SQLColumn maps a sort field to its jobs_conciliacao column.
func (f JobSortField) SQLColumn() string {
	switch f {
	case SortFieldUpdated:
		return "updated_at"
	case SortFieldCreated:
		return "created_at"
	case SortFieldStatus:
		return "status"
	case SortFieldID:
		return "id"
	default:
		return "created_at"
	}
}
