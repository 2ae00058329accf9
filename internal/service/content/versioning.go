package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"specdeck/internal/config"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	"specdeck/internal/utils"
)

// Service manages proposal content and its version history.
//
// Saving is snapshot-then-update: the previous content is copied into the
// history table under its old version number before the current row is
// overwritten at version+1. The two writes run in one transaction with a
// row lock on the current row, so concurrent saves of the same file
// serialize and versions stay gap-free.
type Service struct {
	contents  repositories.ContentRepository
	proposals repositories.ProposalRepository
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewService creates a new content versioning service
func NewService(
	contents repositories.ContentRepository,
	proposals repositories.ProposalRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) *Service {
	return &Service{
		contents:  contents,
		proposals: proposals,
		txManager: txManager,
		logger:    logger,
	}
}

// SaveRequest carries one content save.
type SaveRequest struct {
	ProposalID   string
	FilePath     string
	Content      string
	ChangeReason *string
}

func (r SaveRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProposalID, validation.Required),
		validation.Field(&r.FilePath,
			validation.Required,
			validation.Length(1, config.MaxFilePathLength),
		),
		validation.Field(&r.Content, validation.Length(0, config.MaxContentBytes)),
	)
}

// Save writes content for a file within a mutable proposal, snapshotting
// the previous content into history first. The first save of a file creates
// it at version 1 with no history entry.
func (s *Service) Save(ctx context.Context, actor models.Actor, req SaveRequest) (*models.ContentItem, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	filePath, err := utils.ValidateFilePath(req.FilePath)
	if err != nil {
		return nil, err
	}

	proposal, err := s.proposals.GetByID(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if !proposal.Status.Mutable() {
		return nil, &domain.InvalidStateError{
			Message: fmt.Sprintf("cannot edit content while proposal is %s", proposal.Status),
			State:   string(proposal.Status),
		}
	}

	var saved *models.ContentItem
	err = s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		saved, err = s.saveLocked(txCtx, actor.UserID, proposal.ID, filePath, req.Content, req.ChangeReason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("content saved",
		"proposal_id", proposal.ID,
		"file_path", filePath,
		"version", saved.Version,
		"user_id", actor.UserID,
	)

	return saved, nil
}

// saveLocked performs the snapshot-then-update sequence. Must run inside a
// transaction.
func (s *Service) saveLocked(ctx context.Context, userID, proposalID, filePath, content string, changeReason *string) (*models.ContentItem, error) {
	existing, err := s.contents.GetItemForUpdate(ctx, proposalID, filePath)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		existing = nil
	}

	if existing == nil {
		item := &models.ContentItem{
			ProposalID: proposalID,
			FilePath:   filePath,
			Content:    content,
			Version:    1,
			UpdatedBy:  userID,
		}
		if err := s.contents.CreateItem(ctx, item); err != nil {
			return nil, err
		}
		return item, nil
	}

	// Snapshot keeps the outgoing content under its own version number,
	// attributed to whoever wrote it, with the incoming change reason.
	snapshot := &models.ContentVersion{
		ProposalID:   proposalID,
		FilePath:     filePath,
		Content:      existing.Content,
		Version:      existing.Version,
		CreatedBy:    existing.UpdatedBy,
		CreatedAt:    existing.UpdatedAt,
		ChangeReason: changeReason,
	}
	if err := s.contents.CreateVersion(ctx, snapshot); err != nil {
		return nil, err
	}

	existing.Content = content
	existing.Version++
	existing.UpdatedBy = userID
	existing.UpdatedAt = time.Now().UTC()
	if err := s.contents.UpdateItem(ctx, existing); err != nil {
		return nil, err
	}

	return existing, nil
}

// Get returns the current content of a file.
func (s *Service) Get(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	filePath, err := utils.ValidateFilePath(filePath)
	if err != nil {
		return nil, err
	}
	return s.contents.GetItem(ctx, proposalID, filePath)
}

// ListAll returns all current content files for a proposal ordered by path.
func (s *Service) ListAll(ctx context.Context, proposalID string) ([]models.ContentItem, error) {
	return s.contents.ListItems(ctx, proposalID)
}

// History returns version history for a file, newest first.
func (s *Service) History(ctx context.Context, proposalID, filePath string) ([]models.ContentVersion, error) {
	filePath, err := utils.ValidateFilePath(filePath)
	if err != nil {
		return nil, err
	}
	return s.contents.ListVersions(ctx, proposalID, filePath)
}

// GetVersion returns one historical snapshot of a file.
func (s *Service) GetVersion(ctx context.Context, proposalID, filePath string, version int) (*models.ContentVersion, error) {
	filePath, err := utils.ValidateFilePath(filePath)
	if err != nil {
		return nil, err
	}
	return s.contents.GetVersion(ctx, proposalID, filePath, version)
}

// Rollback restores a historical version by saving its content forward as a
// new version. History is never rewritten; a rollback is just another save.
func (s *Service) Rollback(ctx context.Context, actor models.Actor, proposalID, filePath string, version int) (*models.ContentItem, error) {
	filePath, err := utils.ValidateFilePath(filePath)
	if err != nil {
		return nil, err
	}

	target, err := s.contents.GetVersion(ctx, proposalID, filePath, version)
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("Rollback to version %d", version)
	return s.Save(ctx, actor, SaveRequest{
		ProposalID:   proposalID,
		FilePath:     filePath,
		Content:      target.Content,
		ChangeReason: &reason,
	})
}

// Delete removes a file's current content and its entire history.
// Reports whether the current content existed.
func (s *Service) Delete(ctx context.Context, proposalID, filePath string) (bool, error) {
	filePath, err := utils.ValidateFilePath(filePath)
	if err != nil {
		return false, err
	}

	var existed bool
	err = s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if _, err := s.contents.DeleteVersions(txCtx, proposalID, filePath); err != nil {
			return err
		}
		existed, err = s.contents.DeleteItem(txCtx, proposalID, filePath)
		return err
	})
	if err != nil {
		return false, err
	}

	if existed {
		s.logger.Info("content deleted", "proposal_id", proposalID, "file_path", filePath)
	}

	return existed, nil
}
