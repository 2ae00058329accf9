package proposal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"specdeck/internal/config"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	"specdeck/internal/service/audit"
	contentsvc "specdeck/internal/service/content"
	"specdeck/internal/service/events"
	"specdeck/internal/service/materialize"
	"specdeck/internal/service/openspec"
)

var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// SpecCLI is the slice of the openspec client the lifecycle needs.
type SpecCLI interface {
	Init(ctx context.Context, path string) (*openspec.Result, error)
	Validate(ctx context.Context, path, proposalName string, strict bool) (*openspec.ValidationResult, error)
	ValidateStream(ctx context.Context, path, proposalName string, strict bool) (<-chan string, <-chan error)
	Archive(ctx context.Context, path, changeID string, skipSpecs bool) (*openspec.Result, error)
}

// Seed content written when a proposal is created.
const (
	proposalTemplate = "# Change: %s\n\n## Why\n\n## What Changes\n\n## Impact\n"
	tasksTemplate    = "# Tasks: %s\n\n## 1. Implementation\n\n- [ ] 1.1 \n"

	initialChangeReason = "Initial creation"
)

// Service drives proposals through the review workflow:
// DRAFT -> REVIEW -> READY -> MERGED, with REVIEW -> DRAFT as the only
// backward edge. READY materializes content to the project tree and MERGED
// archives it through the spec CLI.
type Service struct {
	projects  repositories.ProjectRepository
	proposals repositories.ProposalRepository
	comments  repositories.CommentRepository
	contents  *contentsvc.Service
	cli       SpecCLI
	fs        *materialize.Service
	audit     *audit.Service
	hub       *events.Hub
	logger    *slog.Logger
}

// NewService creates a new proposal lifecycle service.
func NewService(
	projects repositories.ProjectRepository,
	proposals repositories.ProposalRepository,
	comments repositories.CommentRepository,
	contents *contentsvc.Service,
	cli SpecCLI,
	fs *materialize.Service,
	auditSvc *audit.Service,
	hub *events.Hub,
	logger *slog.Logger,
) *Service {
	return &Service{
		projects:  projects,
		proposals: proposals,
		comments:  comments,
		contents:  contents,
		cli:       cli,
		fs:        fs,
		audit:     auditSvc,
		hub:       hub,
		logger:    logger,
	}
}

// CreateRequest carries a proposal creation.
type CreateRequest struct {
	ProjectID string
	Name      string // kebab-case slug, becomes the change directory name
}

func (r CreateRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProjectID, validation.Required),
		validation.Field(&r.Name,
			validation.Required,
			validation.Length(1, config.MaxProposalNameLength),
			validation.Match(nameRe).Error("must be a kebab-case slug"),
		),
	)
}

// Create makes a DRAFT proposal and seeds its proposal.md and tasks.md
// templates as version 1 content.
func (s *Service) Create(ctx context.Context, actor models.Actor, req CreateRequest) (*models.Proposal, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	if _, err := s.projectForActor(ctx, actor, req.ProjectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	proposal := &models.Proposal{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		AuthorID:  actor.UserID,
		Name:      req.Name,
		Status:    models.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.proposals.Create(ctx, proposal); err != nil {
		return nil, err
	}

	reason := initialChangeReason
	seeds := []struct {
		path    string
		content string
	}{
		{"proposal.md", fmt.Sprintf(proposalTemplate, req.Name)},
		{"tasks.md", fmt.Sprintf(tasksTemplate, req.Name)},
	}
	for _, seed := range seeds {
		if _, err := s.contents.Save(ctx, actor, contentsvc.SaveRequest{
			ProposalID:   proposal.ID,
			FilePath:     seed.path,
			Content:      seed.content,
			ChangeReason: &reason,
		}); err != nil {
			return nil, fmt.Errorf("seeding %s: %w", seed.path, err)
		}
	}

	s.audit.Record(ctx, actor.UserID, models.AuditProposalCreated, "proposal", proposal.ID,
		nil, map[string]any{"name": proposal.Name, "project_id": proposal.ProjectID})

	s.logger.Info("proposal created",
		"proposal_id", proposal.ID, "project_id", req.ProjectID, "name", req.Name)
	return proposal, nil
}

// Get returns a proposal the actor may access.
func (s *Service) Get(ctx context.Context, actor models.Actor, proposalID string) (*models.Proposal, error) {
	proposal, _, err := s.getWithAccess(ctx, actor, proposalID, false)
	return proposal, err
}

// List returns a project's proposals, most recently updated first.
func (s *Service) List(ctx context.Context, actor models.Actor, projectID string, filter repositories.ProposalFilter) ([]models.Proposal, error) {
	if _, err := s.projectForActor(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.proposals.List(ctx, projectID, filter)
}

// Delete removes a DRAFT proposal together with its content and history.
func (s *Service) Delete(ctx context.Context, actor models.Actor, proposalID string) error {
	proposal, _, err := s.getWithAccess(ctx, actor, proposalID, true)
	if err != nil {
		return err
	}
	if proposal.Status != models.StatusDraft {
		return &domain.InvalidStateError{
			Message: "can only delete DRAFT proposals",
			State:   string(proposal.Status),
		}
	}

	items, err := s.contents.ListAll(ctx, proposalID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if _, err := s.contents.Delete(ctx, proposalID, item.FilePath); err != nil {
			return fmt.Errorf("deleting content %s: %w", item.FilePath, err)
		}
	}

	if err := s.proposals.Delete(ctx, proposalID); err != nil {
		return err
	}

	s.audit.Record(ctx, actor.UserID, models.AuditProposalDeleted, "proposal", proposalID,
		map[string]any{"name": proposal.Name}, nil)
	return nil
}

// SubmitForReview moves DRAFT to REVIEW. A non-empty proposal.md is required.
func (s *Service) SubmitForReview(ctx context.Context, actor models.Actor, proposalID string) (*models.Proposal, error) {
	proposal, _, err := s.getWithAccess(ctx, actor, proposalID, true)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.StatusDraft {
		return nil, &domain.InvalidStateError{
			Message: "only DRAFT proposals can be submitted",
			State:   string(proposal.Status),
		}
	}

	item, err := s.contents.Get(ctx, proposalID, "proposal.md")
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if item == nil || strings.TrimSpace(item.Content) == "" {
		return nil, fmt.Errorf("%w: proposal.md is required", domain.ErrValidation)
	}

	return s.transition(ctx, actor, proposal, models.StatusReview)
}

// ReturnToDraft moves REVIEW back to DRAFT.
func (s *Service) ReturnToDraft(ctx context.Context, actor models.Actor, proposalID string) (*models.Proposal, error) {
	proposal, _, err := s.getWithAccess(ctx, actor, proposalID, true)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.StatusReview {
		return nil, &domain.InvalidStateError{
			Message: "only REVIEW proposals can return to draft",
			State:   string(proposal.Status),
		}
	}
	return s.transition(ctx, actor, proposal, models.StatusDraft)
}

// ValidateDraft runs strict spec validation against a temp materialization
// of the proposal content. The project tree is never touched.
func (s *Service) ValidateDraft(ctx context.Context, actor models.Actor, proposalID string) (*openspec.ValidationResult, error) {
	proposal, _, err := s.getWithAccess(ctx, actor, proposalID, false)
	if err != nil {
		return nil, err
	}

	items, err := s.contents.ListAll(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no content to validate", domain.ErrValidation)
	}

	root, _, cleanup, err := s.fs.WriteTemp(proposal.Name, items)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.cli.Validate(ctx, root, proposal.Name, true)
}

// ValidateDraftStream runs the same temp-tree validation as ValidateDraft
// but pushes CLI output line by line through the event hub. The terminal
// event is complete with the classified result, or error when anything
// fails, so SSE subscribers always see an ending.
func (s *Service) ValidateDraftStream(ctx context.Context, actor models.Actor, proposalID string) error {
	fail := func(err error) error {
		s.hub.Error(proposalID, err.Error())
		return err
	}

	proposal, _, err := s.getWithAccess(ctx, actor, proposalID, false)
	if err != nil {
		return fail(err)
	}

	items, err := s.contents.ListAll(ctx, proposalID)
	if err != nil {
		return fail(err)
	}
	if len(items) == 0 {
		return fail(fmt.Errorf("%w: no content to validate", domain.ErrValidation))
	}

	root, _, cleanup, err := s.fs.WriteTemp(proposal.Name, items)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	s.hub.Status(proposalID, "validation started")

	lines, errc := s.cli.ValidateStream(ctx, root, proposal.Name, true)

	var errorLines, warningLines []string
	for line := range lines {
		s.hub.Output(proposalID, line)
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error"):
			errorLines = append(errorLines, strings.TrimSpace(line))
		case strings.Contains(lower, "warning"):
			warningLines = append(warningLines, strings.TrimSpace(line))
		}
	}

	if err := <-errc; err != nil {
		return fail(err)
	}

	s.hub.Complete(proposalID, map[string]any{
		"passed":   len(errorLines) == 0,
		"errors":   errorLines,
		"warnings": warningLines,
	})
	return nil
}

// MarkReady moves REVIEW to READY: refuses while OPEN comments remain,
// materializes the content under the project tree, and strict-validates it.
// A failed validation removes the materialized subtree and aborts.
func (s *Service) MarkReady(ctx context.Context, actor models.Actor, proposalID string) (*models.Proposal, error) {
	proposal, project, err := s.getWithAccess(ctx, actor, proposalID, true)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.StatusReview {
		return nil, &domain.InvalidStateError{
			Message: "only REVIEW proposals can be marked ready",
			State:   string(proposal.Status),
		}
	}

	counts, err := s.comments.CountByStatus(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if open := counts[models.CommentOpen]; open > 0 {
		return nil, fmt.Errorf("%w: cannot mark ready: %d unresolved comments", domain.ErrValidation, open)
	}

	items, err := s.contents.ListAll(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	changesDir, err := s.fs.WriteChange(project.LocalPath, proposal.Name, items)
	if err != nil {
		return nil, err
	}

	result, err := s.cli.Validate(ctx, project.LocalPath, proposal.Name, true)
	if err != nil {
		s.fs.Cleanup(changesDir)
		return nil, err
	}
	if !result.Passed {
		s.fs.Cleanup(changesDir)
		return nil, fmt.Errorf("%w: validation failed: %s", domain.ErrValidation, result.Output)
	}

	proposal.FilesystemPath = &changesDir
	return s.transition(ctx, actor, proposal, models.StatusReady)
}

// Merge moves READY to MERGED by archiving the change through the spec
// CLI. Admin only; MERGED is terminal.
func (s *Service) Merge(ctx context.Context, actor models.Actor, proposalID string) (*models.Proposal, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", domain.ErrForbidden)
	}

	proposal, project, err := s.getWithAccess(ctx, actor, proposalID, false)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.StatusReady {
		return nil, &domain.InvalidStateError{
			Message: "only READY proposals can be merged",
			State:   string(proposal.Status),
		}
	}

	result, err := s.cli.Archive(ctx, project.LocalPath, proposal.Name, false)
	if err != nil {
		return nil, fmt.Errorf("failed to archive: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("failed to archive: %s", result.Stderr)
	}

	return s.transition(ctx, actor, proposal, models.StatusMerged)
}

// transition persists a status change and audits it.
func (s *Service) transition(ctx context.Context, actor models.Actor, proposal *models.Proposal, to models.ProposalStatus) (*models.Proposal, error) {
	from := proposal.Status
	proposal.Status = to
	proposal.UpdatedAt = time.Now().UTC()
	if err := s.proposals.Update(ctx, proposal); err != nil {
		return nil, err
	}

	s.audit.StatusChanged(ctx, actor.UserID, proposal.ID, from, to)
	s.logger.Info("proposal status changed",
		"proposal_id", proposal.ID, "from", from, "to", to)
	return proposal, nil
}

// getWithAccess loads a proposal and its project, enforcing the access
// rule: admins see everything, otherwise the actor must own the project or
// have authored the proposal. With requireAuthor, non-admins must be the
// proposal's author.
func (s *Service) getWithAccess(ctx context.Context, actor models.Actor, proposalID string, requireAuthor bool) (*models.Proposal, *models.Project, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}

	project, err := s.projects.GetByID(ctx, proposal.ProjectID, "")
	if err != nil {
		return nil, nil, err
	}

	if !actor.IsAdmin() {
		if project.OwnerID != actor.UserID && proposal.AuthorID != actor.UserID {
			return nil, nil, fmt.Errorf("%w: access denied", domain.ErrForbidden)
		}
		if requireAuthor && proposal.AuthorID != actor.UserID {
			return nil, nil, fmt.Errorf("%w: only the author can perform this action", domain.ErrForbidden)
		}
	}

	return proposal, project, nil
}

// projectForActor loads a project the actor may act on.
func (s *Service) projectForActor(ctx context.Context, actor models.Actor, projectID string) (*models.Project, error) {
	ownerScope := actor.UserID
	if actor.IsAdmin() {
		ownerScope = ""
	}
	return s.projects.GetByID(ctx, projectID, ownerScope)
}
