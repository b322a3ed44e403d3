package services

import (
	"context"
	"fmt"
	"time"

	"amora-calls-backend/internal/errs"
	"amora-calls-backend/internal/models"
	"amora-calls-backend/internal/repository"

	"github.com/google/uuid"
)

// MatchService handles match-related business logic
type MatchService struct {
	matchRepo *repository.MatchRepository
	userRepo  *repository.UserRepository
}

// NewMatchService creates a new match service
func NewMatchService(matchRepo *repository.MatchRepository, userRepo *repository.UserRepository) *MatchService {
	return &MatchService{
		matchRepo: matchRepo,
		userRepo:  userRepo,
	}
}

// CreateMatch creates a new match between the user and the owner of partnerCode
func (s *MatchService) CreateMatch(ctx context.Context, userAID, partnerCode string) (*models.Match, error) {
	// Validate partner code
	if len(partnerCode) != 6 {
		return nil, fmt.Errorf("partner code must be 6 characters")
	}

	// Get partner user by code
	partnerUser, err := s.userRepo.GetByCode(ctx, partnerCode)
	if err != nil {
		return nil, fmt.Errorf("partner not found: %w", err)
	}

	userBID := partnerUser.ID

	// Check if user is trying to match with themselves
	if userAID == userBID {
		return nil, fmt.Errorf("cannot create match with yourself")
	}

	// Check if the two users already matched
	matched, err := s.matchRepo.Exists(ctx, userAID, userBID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing match: %w", err)
	}
	if matched {
		return nil, fmt.Errorf("users are already matched")
	}

	// Create match (user_a_id should be lexicographically smaller to ensure consistency)
	if userAID > userBID {
		userAID, userBID = userBID, userAID
	}

	match := &models.Match{
		ID:        uuid.New().String(),
		UserAID:   userAID,
		UserBID:   userBID,
		CreatedAt: time.Now(),
	}

	if err := s.matchRepo.Create(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	return match, nil
}

// DeleteMatch deletes a match if the user is a member
func (s *MatchService) DeleteMatch(ctx context.Context, matchID, userID string) error {
	// Get match
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}

	// Check if user is a member of the match
	if match.UserAID != userID && match.UserBID != userID {
		return fmt.Errorf("user is not a member of this match: %w", errs.ErrUnauthorized)
	}

	// Delete match
	if err := s.matchRepo.Delete(ctx, matchID); err != nil {
		return fmt.Errorf("failed to delete match: %w", err)
	}

	return nil
}

// GetMatchByID gets a match by ID
func (s *MatchService) GetMatchByID(ctx context.Context, matchID string) (*models.Match, error) {
	return s.matchRepo.GetByID(ctx, matchID)
}
