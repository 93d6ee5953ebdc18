package storage

import (
	"context"
	"fmt"
	"sort"
)

// GetSupporter returns the relationship with the given id.
func (s *Store) GetSupporter(supporterRecordID int64) (Supporter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	supporter, ok := s.supporters[supporterRecordID]
	return supporter, ok
}

// FindSupporter returns the relationship between memberID and supporterID, whatever its status.
func (s *Store) FindSupporter(memberID, supporterID string) (Supporter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, supporter := range s.supporters {
		if supporter.MemberID == memberID && supporter.SupporterID == supporterID {
			return supporter, true
		}
	}
	return Supporter{}, false
}

// ListSupportersForMember returns the relationships in which memberID is supported.
func (s *Store) ListSupportersForMember(memberID string) []Supporter {
	return s.filterSupporters(func(supporter Supporter) bool {
		return supporter.MemberID == memberID
	})
}

// ListSupportingForUser returns the relationships in which userID is the supporter.
func (s *Store) ListSupportingForUser(userID string) []Supporter {
	return s.filterSupporters(func(supporter Supporter) bool {
		return supporter.SupporterID == userID
	})
}

func (s *Store) filterSupporters(keep func(Supporter) bool) []Supporter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Supporter, 0)
	for _, supporter := range s.supporters {
		if keep(supporter) {
			matches = append(matches, supporter)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ID < matches[j].ID
	})
	return matches
}

// CreateSupporter records a pending relationship. Duplicate pairs are the caller's responsibility.
func (s *Store) CreateSupporter(ctx context.Context, memberID, supporterID string) (Supporter, error) {
	if err := ctx.Err(); err != nil {
		return Supporter{}, err
	}
	if err := validatePathSegment(memberID); err != nil {
		return Supporter{}, err
	}
	if err := validatePathSegment(supporterID); err != nil {
		return Supporter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSupporterID++
	supporter := Supporter{
		ID:          s.nextSupporterID,
		MemberID:    memberID,
		SupporterID: supporterID,
		Status:      SupporterStatusPending,
		CreatedAt:   s.now(),
	}
	s.supporters[supporter.ID] = supporter
	if err := s.persistSupporters(); err != nil {
		return Supporter{}, err
	}
	return supporter, nil
}

// UpdateSupporterStatus sets the status of an existing relationship.
func (s *Store) UpdateSupporterStatus(ctx context.Context, supporterRecordID int64, status SupporterStatus) (Supporter, error) {
	if err := ctx.Err(); err != nil {
		return Supporter{}, err
	}
	if !status.Valid() {
		return Supporter{}, fmt.Errorf("%w: %q", ErrInvalidSupporterStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	supporter, ok := s.supporters[supporterRecordID]
	if !ok {
		return Supporter{}, fmt.Errorf("%w: %d", ErrSupporterNotFound, supporterRecordID)
	}
	supporter.Status = status
	s.supporters[supporterRecordID] = supporter
	if err := s.persistSupporters(); err != nil {
		return Supporter{}, err
	}
	return supporter, nil
}
