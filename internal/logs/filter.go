package logs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charliek/logtap/internal/domain"
)

// MaxPatternLength caps filter patterns so a client cannot submit a pathological regex
const MaxPatternLength = 256

// Filter applies a LogFilter to history entries
type Filter struct {
	filter domain.LogFilter
	regex  *regexp.Regexp
}

// NewFilter compiles a LogFilter
func NewFilter(filter domain.LogFilter) (*Filter, error) {
	if len(filter.Pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds maximum length of %d characters", domain.ErrInvalidPattern, MaxPatternLength)
	}
	if filter.Transport != "" && !filter.Transport.Valid() {
		return nil, fmt.Errorf("%w: unknown transport %q", domain.ErrInvalidRequest, filter.Transport)
	}

	f := &Filter{filter: filter}
	if filter.Pattern != "" && filter.IsRegex {
		re, err := regexp.Compile(filter.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
		}
		f.regex = re
	}
	return f, nil
}

// Matches reports whether the entry passes every criterion
func (f *Filter) Matches(entry domain.LogEntry) bool {
	if !f.filter.MatchesClient(entry.Client) || !f.filter.MatchesTransport(entry.Transport) {
		return false
	}
	switch {
	case f.filter.Pattern == "":
		return true
	case f.regex != nil:
		return f.regex.MatchString(entry.Text)
	default:
		return strings.Contains(entry.Text, f.filter.Pattern)
	}
}

// FilterEntries returns the entries matching filter
func FilterEntries(entries []domain.LogEntry, filter domain.LogFilter) ([]domain.LogEntry, error) {
	if filter.IsEmpty() {
		return entries, nil
	}

	f, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}

	result := make([]domain.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if f.Matches(entry) {
			result = append(result, entry)
		}
	}
	return result, nil
}

// FilterEntriesLimit filters entries and keeps the newest limit of them.
// The second return value is the match count before limiting.
func FilterEntriesLimit(entries []domain.LogEntry, filter domain.LogFilter, limit int) ([]domain.LogEntry, int, error) {
	filtered, err := FilterEntries(entries, filter)
	if err != nil {
		return nil, 0, err
	}

	total := len(filtered)
	if limit > 0 && total > limit {
		filtered = filtered[total-limit:]
	}
	return filtered, total, nil
}
