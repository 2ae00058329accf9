package models

import (
	"time"
)

// ComplianceStandard is the regulatory standard a project documents against.
type ComplianceStandard string

const (
	StandardIEC62304 ComplianceStandard = "IEC_62304"
	StandardISO26262 ComplianceStandard = "ISO_26262"
	StandardDO178C   ComplianceStandard = "DO_178C"
	StandardCustom   ComplianceStandard = "CUSTOM"
)

// SpecTool is the external AI tool a project is configured for. It drives
// the preferred LLM provider for that project's generation requests.
type SpecTool string

const (
	ToolClaude        SpecTool = "claude"
	ToolCursor        SpecTool = "cursor"
	ToolGitHubCopilot SpecTool = "github-copilot"
	ToolWindsurf      SpecTool = "windsurf"
	ToolCline         SpecTool = "cline"
	ToolAmazonQ       SpecTool = "amazon-q"
	ToolGemini        SpecTool = "gemini"
	ToolOpenCode      SpecTool = "opencode"
	ToolQoder         SpecTool = "qoder"
	ToolRooCode       SpecTool = "roocode"
	ToolNone          SpecTool = "none"
)

// ValidSpecTool reports whether s names a known tool.
func ValidSpecTool(s string) bool {
	switch SpecTool(s) {
	case ToolClaude, ToolCursor, ToolGitHubCopilot, ToolWindsurf, ToolCline,
		ToolAmazonQ, ToolGemini, ToolOpenCode, ToolQoder, ToolRooCode, ToolNone:
		return true
	}
	return false
}

// Project is a compliance project rooted at a local working directory.
// The spec tooling (init/validate/archive) operates on LocalPath.
type Project struct {
	ID                 string             `json:"id" db:"id"`
	OwnerID            string             `json:"owner_id" db:"owner_id"`
	Name               string             `json:"name" db:"name"`
	LocalPath          string             `json:"local_path" db:"local_path"`
	ComplianceStandard ComplianceStandard `json:"compliance_standard" db:"compliance_standard"`
	SpecTool           SpecTool           `json:"spec_tool" db:"spec_tool"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time         `json:"deleted_at,omitempty" db:"deleted_at"`
}
