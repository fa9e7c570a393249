package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres store for documents, policies and check
// history. Documents are read-only here; checks are append-only.
type Repository struct {
	pool      *pgxpool.Pool
	validator *PolicyValidator
}

// NewRepository constructs a repository. Policy rows are decoded through
// validator so a malformed definition never reaches the evaluator.
func NewRepository(pool *pgxpool.Pool, validator *PolicyValidator) *Repository {
	return &Repository{pool: pool, validator: validator}
}

const documentColumns = `id, COALESCE(client_id, ''), file_name, COALESCE(title, ''), COALESCE(document_type, ''), COALESCE(category, ''),
	status, COALESCE(extracted_text, ''), metadata, publish_date, effective_date, expiry_date, uploaded_at`

// GetDocument loads a document by id.
func (r *Repository) GetDocument(ctx context.Context, id string) (Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	if err != nil {
		return Document{}, err
	}
	doc, err := pgx.CollectExactlyOneRow(rows, scanDocument)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return Document{}, err
	}
	return doc, nil
}

// ListDocuments returns documents in upload order.
func (r *Repository) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY uploaded_at, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanDocument)
}

func scanDocument(row pgx.CollectableRow) (Document, error) {
	var (
		doc      Document
		status   string
		metadata []byte
	)
	if err := row.Scan(&doc.ID, &doc.ClientID, &doc.FileName, &doc.Title, &doc.DocumentType, &doc.Category,
		&status, &doc.ExtractedText, &metadata, &doc.PublishDate, &doc.EffectiveDate, &doc.ExpiryDate, &doc.UploadedAt); err != nil {
		return Document{}, err
	}
	doc.Status = DocumentState(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("document %s metadata: %w", doc.ID, err)
		}
	}
	return doc, nil
}

const policyColumns = `id, name, COALESCE(description, ''), COALESCE(category, ''), rules, requirements,
	effective_date, expiry_date, is_active, updated_at`

// GetPolicy loads a policy by id regardless of whether it is active.
func (r *Repository) GetPolicy(ctx context.Context, id string) (Policy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM compliance_policies WHERE id = $1`, id)
	if err != nil {
		return Policy{}, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, scanPolicyRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
		}
		return Policy{}, err
	}
	return r.decodePolicy(row)
}

// ListActivePolicies returns policies flagged active and inside their
// effective window, ordered by id. Policies whose stored definition fails
// validation are returned with LoadError set.
func (r *Repository) ListActivePolicies(ctx context.Context) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM compliance_policies
WHERE is_active
  AND (effective_date IS NULL OR effective_date <= $1)
  AND (expiry_date IS NULL OR expiry_date > $1)
ORDER BY id`, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, scanPolicyRow)
	if err != nil {
		return nil, err
	}
	return r.decodeActive(raw), nil
}

// UpsertPolicy validates and stores a policy definition.
func (r *Repository) UpsertPolicy(ctx context.Context, p Policy) error {
	if r.validator != nil {
		if err := r.validator.Validate(p); err != nil {
			return err
		}
	}
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return err
	}
	requirements, err := json.Marshal(p.Requirements)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO compliance_policies (id, name, description, category, rules, requirements, effective_date, expiry_date, is_active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category,
	rules = EXCLUDED.rules, requirements = EXCLUDED.requirements, effective_date = EXCLUDED.effective_date,
	expiry_date = EXCLUDED.expiry_date, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Description, p.Category, rules, requirements, p.EffectiveDate, p.ExpiryDate, p.IsActive, p.UpdatedAt)
	return err
}

// policyRow is a policy with its rules and requirements still raw.
type policyRow struct {
	Policy
	rules, requirements []byte
}

func scanPolicyRow(row pgx.CollectableRow) (policyRow, error) {
	var pr policyRow
	p := &pr.Policy
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &pr.rules, &pr.requirements,
		&p.EffectiveDate, &p.ExpiryDate, &p.IsActive, &p.UpdatedAt); err != nil {
		return policyRow{}, err
	}
	return pr, nil
}

func (r *Repository) decodePolicy(pr policyRow) (Policy, error) {
	p := pr.Policy
	if r.validator != nil {
		rules, reqs, err := r.validator.Decode(pr.rules, pr.requirements)
		if err != nil {
			return Policy{}, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		p.Rules, p.Requirements = rules, reqs
		return p, nil
	}
	if len(pr.rules) > 0 {
		if err := json.Unmarshal(pr.rules, &p.Rules); err != nil {
			return Policy{}, fmt.Errorf("policy %s: %w: rules: %w", p.ID, ErrInvalidPolicy, err)
		}
	}
	if len(pr.requirements) > 0 {
		if err := json.Unmarshal(pr.requirements, &p.Requirements); err != nil {
			return Policy{}, fmt.Errorf("policy %s: %w: requirements: %w", p.ID, ErrInvalidPolicy, err)
		}
	}
	return p, nil
}

// decodeActive decodes each row on its own. A row that fails is kept with
// LoadError set and no rules or requirements.
func (r *Repository) decodeActive(rows []policyRow) []Policy {
	out := make([]Policy, 0, len(rows))
	for _, pr := range rows {
		p, err := r.decodePolicy(pr)
		if err != nil {
			p = pr.Policy
			p.LoadError = err.Error()
		}
		out = append(out, p)
	}
	return out
}

// InsertCheck appends a check to the history.
func (r *Repository) InsertCheck(ctx context.Context, check Check) error {
	result, err := json.Marshal(check.Result)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO compliance_checks (id, document_id, client_id, policy_id, policy_name, policy_category,
	requirement, status, score, result, notes, checked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		check.ID, check.DocumentID, nullString(check.ClientID), check.PolicyID, check.PolicyName, nullString(check.PolicyCategory),
		check.Requirement, string(check.Status), check.Score, result, nullString(check.Notes), check.CheckedAt)
	return err
}

// ListChecks returns checks newest first.
func (r *Repository) ListChecks(ctx context.Context, filter CheckFilter) ([]Check, error) {
	var (
		where []string
		args  []any
	)
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	query := `SELECT id, document_id, COALESCE(client_id, ''), policy_id, policy_name, COALESCE(policy_category, ''),
	requirement, status, score, result, COALESCE(notes, ''), checked_at
FROM compliance_checks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY checked_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Check, error) {
		var (
			c      Check
			status string
			result []byte
		)
		if err := row.Scan(&c.ID, &c.DocumentID, &c.ClientID, &c.PolicyID, &c.PolicyName, &c.PolicyCategory,
			&c.Requirement, &status, &c.Score, &result, &c.Notes, &c.CheckedAt); err != nil {
			return Check{}, err
		}
		c.Status = Status(status)
		if len(result) > 0 {
			if err := json.Unmarshal(result, &c.Result); err != nil {
				return Check{}, fmt.Errorf("check %s result: %w", c.ID, err)
			}
		}
		return c, nil
	})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
