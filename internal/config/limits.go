package config

const (
	// MaxProjectNameLength is the maximum length for project names.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (names should be short and descriptive).
	MaxProjectNameLength = 255

	// MaxProposalNameLength is the maximum length for proposal names.
	// Proposal names double as change-directory names on disk, so they
	// stay well under filesystem limits.
	MaxProposalNameLength = 255

	// MaxFilePathLength is the maximum length for content file paths
	// within a proposal. Set to 500 to allow nested spec paths like
	// "specs/access_control/spec.md" with room to spare. Longer paths
	// indicate overly deep hierarchies (anti-pattern).
	MaxFilePathLength = 500

	// MaxCommentLength is the maximum length for review comment bodies.
	MaxCommentLength = 10000

	// MaxInstructionsLength is the maximum length for free-form
	// iteration instructions passed to the LLM.
	MaxInstructionsLength = 5000

	// MaxContentBytes is the maximum size of a single content file.
	// 1MB is generous for markdown documents and keeps snapshot rows
	// bounded.
	MaxContentBytes = 1 << 20
)
