package proposal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"specdeck/internal/config"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/utils"
)

// ProjectCreateRequest carries a project creation.
type ProjectCreateRequest struct {
	Name               string
	LocalPath          string
	ComplianceStandard models.ComplianceStandard
	SpecTool           string // empty means: read from .env, default "none"
}

func (r ProjectCreateRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name,
			validation.Required,
			validation.Length(1, config.MaxProjectNameLength),
		),
		validation.Field(&r.LocalPath, validation.Required),
		validation.Field(&r.ComplianceStandard, validation.Required,
			validation.In(models.StandardIEC62304, models.StandardISO26262, models.StandardDO178C, models.StandardCustom)),
		validation.Field(&r.SpecTool, validation.By(func(v any) error {
			tool := v.(string)
			if tool != "" && !models.ValidSpecTool(tool) {
				return fmt.Errorf("unknown spec tool %q", tool)
			}
			return nil
		})),
	)
}

// CreateProject validates the local directory, initializes the spec
// tooling in it, and records the project. The spec tool comes from the
// request, falling back to SPEC_TOOL in the directory's .env, then "none".
func (s *Service) CreateProject(ctx context.Context, actor models.Actor, req ProjectCreateRequest) (*models.Project, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	localPath, err := utils.ValidateProjectDirectory(req.LocalPath)
	if err != nil {
		return nil, err
	}

	tool := models.SpecTool(req.SpecTool)
	if tool == "" {
		tool = readToolFromEnv(localPath)
	}
	if tool == "" {
		tool = models.ToolNone
	}

	result, err := s.cli.Init(ctx, localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize spec tooling: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("failed to initialize spec tooling: %s", result.Stderr)
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:                 uuid.New().String(),
		OwnerID:            actor.UserID,
		Name:               req.Name,
		LocalPath:          localPath,
		ComplianceStandard: req.ComplianceStandard,
		SpecTool:           tool,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.UserID, models.AuditProjectCreated, "project", project.ID,
		nil, map[string]any{
			"name":      project.Name,
			"standard":  string(project.ComplianceStandard),
			"spec_tool": string(project.SpecTool),
		})

	s.logger.Info("project created",
		"project_id", project.ID, "name", project.Name, "spec_tool", tool)
	return project, nil
}

// GetProject returns a project the actor may access.
func (s *Service) GetProject(ctx context.Context, actor models.Actor, projectID string) (*models.Project, error) {
	return s.projectForActor(ctx, actor, projectID)
}

// ListProjects returns the actor's projects; admins see all live projects.
func (s *Service) ListProjects(ctx context.Context, actor models.Actor, offset, limit int) ([]models.Project, error) {
	ownerScope := actor.UserID
	if actor.IsAdmin() {
		ownerScope = ""
	}
	return s.projects.List(ctx, ownerScope, offset, limit)
}

// UpdateProject renames a project. The compliance standard and local path
// are immutable after creation.
func (s *Service) UpdateProject(ctx context.Context, actor models.Actor, projectID, name string) (*models.Project, error) {
	if err := validation.Validate(name,
		validation.Required,
		validation.Length(1, config.MaxProjectNameLength),
	); err != nil {
		return nil, fmt.Errorf("%w: name: %s", domain.ErrValidation, err)
	}

	project, err := s.projectForActor(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}

	oldName := project.Name
	project.Name = name
	project.UpdatedAt = time.Now().UTC()
	if err := s.projects.Update(ctx, project); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.UserID, models.AuditProjectUpdated, "project", project.ID,
		map[string]any{"name": oldName}, map[string]any{"name": project.Name})
	return project, nil
}

// DeleteProject soft-deletes a project. Admin only; the rows stay for the
// audit trail.
func (s *Service) DeleteProject(ctx context.Context, actor models.Actor, projectID string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin access required", domain.ErrForbidden)
	}

	project, err := s.projects.GetByID(ctx, projectID, "")
	if err != nil {
		return err
	}
	if err := s.projects.SoftDelete(ctx, projectID); err != nil {
		return err
	}

	s.audit.Record(ctx, actor.UserID, models.AuditProjectDeleted, "project", project.ID,
		map[string]any{"name": project.Name}, nil)
	return nil
}

// ProjectStats holds per-status proposal counts for one project.
type ProjectStats struct {
	ProjectID      string         `json:"project_id"`
	ProposalCounts map[string]int `json:"proposal_counts"`
}

// GetProjectStats returns proposal counts per status. Every status appears
// in the map, zero-valued when absent.
func (s *Service) GetProjectStats(ctx context.Context, actor models.Actor, projectID string) (*ProjectStats, error) {
	if _, err := s.projectForActor(ctx, actor, projectID); err != nil {
		return nil, err
	}

	counts, err := s.proposals.CountByStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}

	stats := &ProjectStats{
		ProjectID:      projectID,
		ProposalCounts: make(map[string]int, 4),
	}
	for _, status := range []models.ProposalStatus{
		models.StatusDraft, models.StatusReview, models.StatusReady, models.StatusMerged,
	} {
		stats.ProposalCounts[string(status)] = counts[status]
	}
	return stats, nil
}

// readToolFromEnv reads SPEC_TOOL from the project directory's .env file.
// Returns "" when the file is missing, unreadable, or names an unknown tool.
func readToolFromEnv(localPath string) models.SpecTool {
	f, err := os.Open(filepath.Join(localPath, ".env"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "SPEC_TOOL=") {
			continue
		}
		value := strings.TrimPrefix(line, "SPEC_TOOL=")
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if models.ValidSpecTool(value) {
			return models.SpecTool(value)
		}
		return ""
	}
	return ""
}
