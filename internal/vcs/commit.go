package vcs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intake/internal/contact/models"
	dErrors "intake/pkg/domain-errors"
)

const recordDir = "contacts"

// RecordPath is where a record's payload lives in the repository.
func RecordPath(id string) string {
	return fmt.Sprintf("%s/%s.json", recordDir, id)
}

// MetadataPath is where a record's submission metadata lives in the repository.
func MetadataPath(id string) string {
	return fmt.Sprintf("%s/%s.meta.json", recordDir, id)
}

// submissionMetadata is committed next to the record so the merge webhook can
// be traced back to the submission that produced it.
type submissionMetadata struct {
	RecordID      string    `json:"recordId"`
	RecordType    string    `json:"recordType"`
	Branch        string    `json:"branch"`
	CorrelationID string    `json:"correlationId"`
	Source        string    `json:"source"`
	Actor         string    `json:"actor"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// CommitRecord persists r on a fresh review branch and opens a pull request
// for it. Any failure after the branch exists deletes the branch; the original
// error is returned tagged with the commit phase.
func (c *Client) CommitRecord(ctx context.Context, r *models.Record, sub models.Submission) (*models.VersionControlRef, error) {
	repo, err := c.EnsureRepository(ctx)
	if err != nil {
		return nil, dErrors.WithPhase(err, dErrors.PhaseCommit, adapterName, "ensure repository")
	}
	base := repo.DefaultBranch
	if base == "" {
		base = c.defaultBranch
	}

	branch := models.BranchName(models.RecordType, r, c.now())
	if err := c.CreateBranch(ctx, branch, base); err != nil {
		return nil, dErrors.WithPhase(err, dErrors.PhaseCommit, adapterName, "create branch")
	}

	ref, err := c.writeAndOpen(ctx, r, sub, branch, base)
	if err != nil {
		if cerr := c.DeleteBranch(ctx, branch); cerr != nil {
			c.logger.ErrorContext(ctx, "branch cleanup failed",
				"branch", branch,
				"record_id", r.ID,
				"error", cerr,
			)
		} else {
			c.logger.InfoContext(ctx, "deleted branch after failed commit",
				"branch", branch,
				"record_id", r.ID,
			)
		}
		return nil, dErrors.WithPhase(err, dErrors.PhaseCommit, adapterName, "commit record")
	}
	return ref, nil
}

func (c *Client) writeAndOpen(ctx context.Context, r *models.Record, sub models.Submission, branch, base string) (*models.VersionControlRef, error) {
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	meta, err := json.MarshalIndent(submissionMetadata{
		RecordID:      r.ID,
		RecordType:    models.RecordType,
		Branch:        branch,
		CorrelationID: sub.CorrelationID,
		Source:        sub.Source,
		Actor:         sub.Actor,
		ReceivedAt:    sub.ReceivedAt,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	recordPath := RecordPath(r.ID)
	if _, err := c.CommitFile(ctx, recordPath, append(payload, '\n'), fmt.Sprintf("Add contact %s", r.ID), branch); err != nil {
		return nil, err
	}
	if _, err := c.CommitFile(ctx, MetadataPath(r.ID), append(meta, '\n'), fmt.Sprintf("Add submission metadata for %s", r.ID), branch); err != nil {
		return nil, err
	}

	pr, err := c.CreatePullRequest(ctx, PullRequestTitle(r), branch, base, PullRequestBody(r, sub))
	if err != nil {
		return nil, err
	}
	return &models.VersionControlRef{
		Branch:         branch,
		PullRequestID:  pr.Number,
		PullRequestURL: pr.HTMLURL,
		FilePath:       recordPath,
	}, nil
}

// PullRequestTitle is the review title for r.
func PullRequestTitle(r *models.Record) string {
	return "Add Contact: " + r.Name
}

// Pull request body field labels, rendered as "**Label:** value" lines.
const (
	BodyFieldName          = "Name"
	BodyFieldEmail         = "Email"
	BodyFieldCompany       = "Company"
	BodyFieldRecordID      = "Record ID"
	BodyFieldCorrelationID = "Correlation ID"
	BodyFieldSource        = "Source"
)

// PullRequestBody renders the review description for r.
func PullRequestBody(r *models.Record, sub models.Submission) string {
	var b strings.Builder
	b.WriteString("## New contact submission\n\n")
	line := func(label, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "**%s:** %s\n", label, value)
	}
	line(BodyFieldName, r.Name)
	line(BodyFieldEmail, r.Email)
	line(BodyFieldCompany, r.Company)
	line(BodyFieldRecordID, r.ID)
	line(BodyFieldCorrelationID, sub.CorrelationID)
	line(BodyFieldSource, sub.Source)
	b.WriteString("\nMerging this pull request propagates the contact downstream.\n")
	return b.String()
}

// ParsePullRequestBody extracts "**Label:** value" lines from a pull request
// body. Placeholder values ("-") are omitted.
func ParsePullRequestBody(body string) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "**") {
			continue
		}
		rest := line[2:]
		end := strings.Index(rest, ":**")
		if end <= 0 {
			continue
		}
		label := strings.TrimSpace(rest[:end])
		value := strings.TrimSpace(rest[end+3:])
		if value == "" || value == "-" {
			continue
		}
		if _, seen := fields[label]; !seen {
			fields[label] = value
		}
	}
	return fields
}
