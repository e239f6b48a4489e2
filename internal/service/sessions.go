package service

import (
	"context"
	"fmt"
	"strings"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

type SessionService struct {
	*core
}

func (s *SessionService) CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.Session, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || req.MaxCapacity < 1 || !req.EndsAt.After(req.StartsAt) {
		return nil, apperrors.ErrInvalidSession
	}

	session := &models.Session{
		Title:       title,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		MaxCapacity: req.MaxCapacity,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		return repos.Sessions.Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.WithContext(ctx).Info("Session created",
		"session_id", session.ID, "max_capacity", session.MaxCapacity, "starts_at", session.StartsAt)
	return session, nil
}

// Occupancy returns the session counters, served from the cache when possible. A value read while
// a mutation of the session committed is returned but not cached.
func (s *SessionService) Occupancy(ctx context.Context, sessionID int64) (*models.Occupancy, error) {
	log := logger.WithContext(ctx)

	cacheable := false
	var version int64
	if s.cache != nil {
		occ, v, err := s.cache.GetOccupancy(ctx, sessionID)
		if err != nil {
			log.Warn("Occupancy cache read failed", "error", err, "session_id", sessionID)
		} else if occ != nil {
			return occ, nil
		} else {
			cacheable, version = true, v
		}
	}

	var occ *models.Occupancy
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		session, err := repos.Sessions.GetByID(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if session == nil {
			return apperrors.ErrSessionNotFound
		}
		held, err := repos.Bookings.PendingHoldSeats(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to count pending holds: %w", err)
		}
		queued, err := repos.Waitlist.Count(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to count waitlist: %w", err)
		}
		occ = &models.Occupancy{
			SessionID:        session.ID,
			MaxCapacity:      session.MaxCapacity,
			OccupiedSeats:    session.OccupiedSeats,
			PendingHoldSeats: held,
			FreeSeats:        session.FreeSeats(),
			WaitlistLength:   queued,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.SetOccupancy(ctx, occ, version); err != nil {
			log.Warn("Occupancy cache write failed", "error", err, "session_id", sessionID)
		}
	}
	return occ, nil
}

// UserStatus lists the owner's bookings and waitlist entries across sessions.
func (s *SessionService) UserStatus(ctx context.Context, ownerID int64) (*models.UserStatusResponse, error) {
	resp := &models.UserStatusResponse{
		Bookings: []models.Booking{},
		Waitlist: []models.WaitlistEntry{},
	}
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		bookings, err := repos.Bookings.ListByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("failed to list bookings: %w", err)
		}
		entries, err := repos.Waitlist.ListByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("failed to list waitlist entries: %w", err)
		}
		if bookings != nil {
			resp.Bookings = bookings
		}
		if entries != nil {
			resp.Waitlist = entries
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// History returns the recorded transitions of one of the owner's bookings.
func (s *SessionService) History(ctx context.Context, ownerID, bookingID int64) ([]models.Transition, error) {
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		booking, err := repos.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("failed to get booking: %w", err)
		}
		if booking == nil || booking.OwnerID != ownerID {
			return apperrors.ErrNotFoundOrUnauthorized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.history == nil {
		return []models.Transition{}, nil
	}
	transitions, err := s.history.History(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking history: %w", err)
	}
	if transitions == nil {
		transitions = []models.Transition{}
	}
	return transitions, nil
}

// Audit recomputes the seats held by confirmed bookings and compares them with the maintained counter.
func (s *SessionService) Audit(ctx context.Context, sessionID int64) (*models.AuditResult, error) {
	var result *models.AuditResult
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		session, err := repos.Sessions.GetByID(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if session == nil {
			return apperrors.ErrSessionNotFound
		}
		confirmed, err := repos.Bookings.ConfirmedSeats(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to sum confirmed seats: %w", err)
		}
		result = &models.AuditResult{
			SessionID:      sessionID,
			OccupiedSeats:  session.OccupiedSeats,
			ConfirmedSeats: confirmed,
			MaxCapacity:    session.MaxCapacity,
			Consistent:     confirmed == session.OccupiedSeats && session.OccupiedSeats <= session.MaxCapacity,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		logger.WithContext(ctx).Error("Occupied seats counter drifted",
			"session_id", sessionID, "occupied", result.OccupiedSeats, "confirmed", result.ConfirmedSeats)
	}
	return result, nil
}
