package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"specdeck/internal/config"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	"specdeck/internal/service/audit"
	"specdeck/internal/utils"
)

// Service manages review comments and their resolution lifecycle.
//
// Comments attach to proposals in REVIEW status. Resolution is author-side:
// the proposal author (or an admin) moves an OPEN comment to ACCEPTED,
// REJECTED or DEFERRED. Accepting auto-selects the comment for the next LLM
// iteration round. Reopen is the only path back to OPEN.
type Service struct {
	comments  repositories.CommentRepository
	proposals repositories.ProposalRepository
	audit     *audit.Service
	logger    *slog.Logger
}

// NewService creates a new review service
func NewService(
	comments repositories.CommentRepository,
	proposals repositories.ProposalRepository,
	auditSvc *audit.Service,
	logger *slog.Logger,
) *Service {
	return &Service{
		comments:  comments,
		proposals: proposals,
		audit:     auditSvc,
		logger:    logger,
	}
}

// CreateRequest carries a new review comment.
type CreateRequest struct {
	ProposalID string
	FilePath   string
	LineStart  *int
	LineEnd    *int
	Content    string
	ParentID   *string
}

func (r CreateRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProposalID, validation.Required),
		validation.Field(&r.FilePath,
			validation.Required,
			validation.Length(1, config.MaxFilePathLength),
		),
		validation.Field(&r.Content,
			validation.Required,
			validation.Length(1, config.MaxCommentLength),
		),
		validation.Field(&r.LineStart, validation.Min(1)),
		validation.Field(&r.LineEnd, validation.Min(1)),
	)
}

// Create adds a comment to a proposal in REVIEW status. Authors cannot
// comment on their own proposals. A parent, when given, must be a comment
// on the same proposal.
func (s *Service) Create(ctx context.Context, actor models.Actor, req CreateRequest) (*models.ReviewComment, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	proposal, err := s.proposals.GetByID(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}

	if proposal.Status != models.StatusReview {
		return nil, &domain.InvalidStateError{
			Message: "comments can only be added to proposals in review",
			State:   string(proposal.Status),
		}
	}

	if proposal.AuthorID == actor.UserID {
		return nil, fmt.Errorf("%w: authors cannot review their own proposals", domain.ErrValidation)
	}

	filePath, err := utils.ValidateFilePath(req.FilePath)
	if err != nil {
		return nil, err
	}

	if req.ParentID != nil {
		if _, err := s.comments.GetByID(ctx, *req.ParentID, proposal.ID); err != nil {
			return nil, fmt.Errorf("%w: parent comment not found", domain.ErrValidation)
		}
	}

	comment := &models.ReviewComment{
		ProposalID: proposal.ID,
		ReviewerID: actor.UserID,
		FilePath:   filePath,
		LineStart:  req.LineStart,
		LineEnd:    req.LineEnd,
		Content:    req.Content,
		Status:     models.CommentOpen,
		ParentID:   req.ParentID,
	}

	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.UserID, models.AuditCommentCreated, "comment", comment.ID, nil,
		map[string]any{
			"proposal_id": proposal.ID,
			"file_path":   filePath,
			"content":     truncate(req.Content, 100),
		})

	s.logger.Info("comment created",
		"comment_id", comment.ID,
		"proposal_id", proposal.ID,
		"file_path", filePath,
		"reviewer_id", actor.UserID,
	)

	return comment, nil
}

// Get returns one comment scoped to a proposal.
func (s *Service) Get(ctx context.Context, proposalID, commentID string) (*models.ReviewComment, error) {
	return s.comments.GetByID(ctx, commentID, proposalID)
}

// List returns comments for a proposal, threads grouped. An invalid file
// path filter is ignored rather than rejected.
func (s *Service) List(ctx context.Context, proposalID string, filter repositories.CommentFilter) ([]models.ReviewComment, error) {
	if filter.FilePath != "" {
		normalized, err := utils.ValidateFilePath(filter.FilePath)
		if err != nil {
			filter.FilePath = ""
		} else {
			filter.FilePath = normalized
		}
	}
	return s.comments.List(ctx, proposalID, filter)
}

// UpdateRequest carries edits to a comment's text or line range.
type UpdateRequest struct {
	Content   *string
	LineStart *int
	LineEnd   *int
}

// Update edits a comment. Only the comment owner or an admin may edit, only
// while the comment is OPEN and the proposal is in REVIEW.
func (s *Service) Update(ctx context.Context, actor models.Actor, proposalID, commentID string, req UpdateRequest) (*models.ReviewComment, error) {
	comment, err := s.getEditable(ctx, actor, proposalID, commentID)
	if err != nil {
		return nil, err
	}

	if req.Content != nil {
		if *req.Content == "" || len(*req.Content) > config.MaxCommentLength {
			return nil, fmt.Errorf("%w: comment content must be 1-%d characters", domain.ErrValidation, config.MaxCommentLength)
		}
		comment.Content = *req.Content
	}
	if req.LineStart != nil {
		comment.LineStart = req.LineStart
	}
	if req.LineEnd != nil {
		comment.LineEnd = req.LineEnd
	}

	if err := s.comments.Update(ctx, comment); err != nil {
		return nil, err
	}

	return comment, nil
}

// Delete removes a comment. Same ownership and state rules as Update, plus
// a comment with replies cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor models.Actor, proposalID, commentID string) error {
	comment, err := s.getEditable(ctx, actor, proposalID, commentID)
	if err != nil {
		return err
	}

	hasReplies, err := s.comments.HasReplies(ctx, comment.ID)
	if err != nil {
		return err
	}
	if hasReplies {
		return &domain.ConflictError{
			Message:      "cannot delete comment with replies",
			ResourceType: "comment",
			ResourceID:   comment.ID,
		}
	}

	return s.comments.Delete(ctx, comment.ID)
}

// getEditable loads a comment and checks the shared edit/delete rules.
func (s *Service) getEditable(ctx context.Context, actor models.Actor, proposalID, commentID string) (*models.ReviewComment, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.Status != models.StatusReview {
		return nil, &domain.InvalidStateError{
			Message: "comments can only be modified on proposals in review",
			State:   string(proposal.Status),
		}
	}

	comment, err := s.comments.GetByID(ctx, commentID, proposalID)
	if err != nil {
		return nil, err
	}

	if comment.ReviewerID != actor.UserID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only the comment owner can modify it", domain.ErrForbidden)
	}

	if comment.Status != models.CommentOpen {
		return nil, &domain.InvalidStateError{
			Message: "cannot modify resolved comments",
			State:   string(comment.Status),
		}
	}

	return comment, nil
}

// Resolve moves an OPEN comment to ACCEPTED, REJECTED or DEFERRED. Only the
// proposal author or an admin may resolve; only an admin may re-resolve an
// already resolved comment. Accepting auto-selects the comment for
// iteration.
func (s *Service) Resolve(ctx context.Context, actor models.Actor, proposalID, commentID string, status models.CommentStatus, authorResponse *string) (*models.ReviewComment, error) {
	if status == models.CommentOpen {
		return nil, fmt.Errorf("%w: cannot resolve a comment to open, use reopen", domain.ErrValidation)
	}
	if !models.ValidCommentStatus(string(status)) {
		return nil, fmt.Errorf("%w: unknown comment status %q", domain.ErrValidation, status)
	}

	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.AuthorID != actor.UserID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only the proposal author can resolve comments", domain.ErrForbidden)
	}

	comment, err := s.comments.GetByID(ctx, commentID, proposalID)
	if err != nil {
		return nil, err
	}

	if comment.Status != models.CommentOpen && !actor.IsAdmin() {
		return nil, &domain.InvalidStateError{
			Message: "comment is already resolved",
			State:   string(comment.Status),
		}
	}

	now := time.Now().UTC()
	comment.Status = status
	comment.AuthorResponse = authorResponse
	comment.ResolvedAt = &now
	comment.ResolvedBy = &actor.UserID

	if status == models.CommentAccepted {
		comment.SelectedForIteration = true
	}

	if err := s.comments.Update(ctx, comment); err != nil {
		return nil, err
	}

	s.audit.CommentResolved(ctx, actor.UserID, comment.ID, proposalID, status, authorResponse)

	s.logger.Info("comment resolved",
		"comment_id", comment.ID,
		"proposal_id", proposalID,
		"status", status,
		"resolved_by", actor.UserID,
	)

	return comment, nil
}

// Reopen returns a resolved comment to OPEN, clearing resolution metadata
// and its iteration selection. Only the original reviewer or an admin may
// reopen, and only while the proposal is in REVIEW.
func (s *Service) Reopen(ctx context.Context, actor models.Actor, proposalID, commentID string) (*models.ReviewComment, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.Status != models.StatusReview {
		return nil, &domain.InvalidStateError{
			Message: "comments can only be reopened on proposals in review",
			State:   string(proposal.Status),
		}
	}

	comment, err := s.comments.GetByID(ctx, commentID, proposalID)
	if err != nil {
		return nil, err
	}

	if comment.ReviewerID != actor.UserID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admin or the original reviewer can reopen", domain.ErrForbidden)
	}

	if comment.Status == models.CommentOpen {
		return nil, &domain.InvalidStateError{
			Message: "comment is already open",
			State:   string(models.CommentOpen),
		}
	}

	comment.Status = models.CommentOpen
	comment.ResolvedAt = nil
	comment.ResolvedBy = nil
	comment.SelectedForIteration = false

	if err := s.comments.Update(ctx, comment); err != nil {
		return nil, err
	}

	return comment, nil
}

// SetSelection toggles a comment's iteration selection. Only the proposal
// author or an admin may toggle, and only ACCEPTED comments are selectable.
func (s *Service) SetSelection(ctx context.Context, actor models.Actor, proposalID, commentID string, selected bool) (*models.ReviewComment, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.AuthorID != actor.UserID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only the proposal author can select comments for iteration", domain.ErrForbidden)
	}

	comment, err := s.comments.GetByID(ctx, commentID, proposalID)
	if err != nil {
		return nil, err
	}

	if comment.Status != models.CommentAccepted {
		return nil, &domain.InvalidStateError{
			Message: "only accepted comments can be selected for iteration",
			State:   string(comment.Status),
		}
	}

	comment.SelectedForIteration = selected
	if err := s.comments.Update(ctx, comment); err != nil {
		return nil, err
	}

	return comment, nil
}

// ListSelected returns ACCEPTED comments currently queued for iteration,
// optionally narrowed to one file path.
func (s *Service) ListSelected(ctx context.Context, proposalID, filePath string) ([]models.ReviewComment, error) {
	if filePath != "" {
		normalized, err := utils.ValidateFilePath(filePath)
		if err != nil {
			return nil, err
		}
		filePath = normalized
	}
	return s.comments.ListSelected(ctx, proposalID, filePath)
}

// ClearSelection unselects every queued comment in scope after an iteration
// round consumed them, returning how many were cleared.
func (s *Service) ClearSelection(ctx context.Context, proposalID, filePath string) (int, error) {
	cleared, err := s.comments.ClearSelection(ctx, proposalID, filePath)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logger.Info("iteration selection cleared", "proposal_id", proposalID, "count", cleared)
	}
	return cleared, nil
}

// Stats summarizes the review state of one proposal.
func (s *Service) Stats(ctx context.Context, proposalID string) (*models.CommentStats, error) {
	counts, err := s.comments.CountByStatus(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	selected, err := s.comments.ListSelected(ctx, proposalID, "")
	if err != nil {
		return nil, err
	}

	byStatus := map[string]int{
		string(models.CommentOpen):     0,
		string(models.CommentAccepted): 0,
		string(models.CommentRejected): 0,
		string(models.CommentDeferred): 0,
	}
	total := 0
	for status, count := range counts {
		byStatus[string(status)] = count
		total += count
	}

	return &models.CommentStats{
		ProposalID:           proposalID,
		Total:                total,
		ByStatus:             byStatus,
		SelectedForIteration: len(selected),
		AllResolved:          byStatus[string(models.CommentOpen)] == 0,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
