package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

const uniqueViolation = "23505"

type txn struct {
	tx pgx.Tx
}

var _ core.Tx = (*txn)(nil)

// ---------------------------------------------------------------------------
// Submissions
// ---------------------------------------------------------------------------

const submissionColumns = `id, submitter, submitter_name, full_submission, status, upload_token, merged_into,
	file_names, omitted, last_error, uploaded_by, uploaded_at, reviewed_by, reviewed_at, decided_by, decided_at, updated_at`

func scanSubmission(row pgx.Row) (*core.Submission, error) {
	var s core.Submission
	var status string
	err := row.Scan(&s.ID, &s.Submitter, &s.SubmitterName, &s.Full, &status, &s.UploadToken, &s.MergedInto,
		&s.FileNames, &s.Omitted, &s.LastError, &s.UploadedBy, &s.UploadedAt, &s.ReviewedBy, &s.ReviewedAt,
		&s.DecidedBy, &s.DecidedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = core.Status(status)
	return &s, nil
}

func (t *txn) CreateSubmission(ctx context.Context, s *core.Submission) error {
	fileNames := s.FileNames
	if fileNames == nil {
		fileNames = []string{}
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO submissions (submitter, submitter_name, full_submission, status, upload_token, merged_into,
			file_names, omitted, last_error, uploaded_by, uploaded_at, reviewed_by, reviewed_at, decided_by, decided_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		s.Submitter, s.SubmitterName, s.Full, string(s.Status), s.UploadToken, s.MergedInto,
		fileNames, s.Omitted, s.LastError, s.UploadedBy, s.UploadedAt, s.ReviewedBy, s.ReviewedAt,
		s.DecidedBy, s.DecidedAt, s.UpdatedAt,
	).Scan(&s.ID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "submissions_upload_token_key" {
		return fmt.Errorf("token %s: %w", s.UploadToken, core.ErrDuplicateToken)
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (t *txn) GetSubmission(ctx context.Context, id int64) (*core.Submission, error) {
	s, err := scanSubmission(t.tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("submission", id)
	}
	return s, err
}

func (t *txn) GetSubmissionByToken(ctx context.Context, token string) (*core.Submission, error) {
	s, err := scanSubmission(t.tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE upload_token = $1`, token))
	if isNoRows(err) {
		return nil, notFound("submission for token", token)
	}
	return s, err
}

func (t *txn) UpdateSubmission(ctx context.Context, s *core.Submission) error {
	fileNames := s.FileNames
	if fileNames == nil {
		fileNames = []string{}
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE submissions SET
			submitter_name = $2, full_submission = $3, status = $4, merged_into = $5, file_names = $6,
			omitted = $7, last_error = $8, reviewed_by = $9, reviewed_at = $10, decided_by = $11,
			decided_at = $12, updated_at = $13
		WHERE id = $1`,
		s.ID, s.SubmitterName, s.Full, string(s.Status), s.MergedInto, fileNames,
		s.Omitted, s.LastError, s.ReviewedBy, s.ReviewedAt, s.DecidedBy, s.DecidedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("submission", s.ID)
	}
	return nil
}

func (t *txn) ListSubmissions(ctx context.Context, f core.SubmissionFilter) ([]*core.Submission, error) {
	var (
		where []string
		args  []any
	)
	if f.Submitter != "" {
		args = append(args, f.Submitter)
		where = append(where, fmt.Sprintf("submitter = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	q := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*core.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Staged records
// ---------------------------------------------------------------------------

func encodeRecord(r *core.StagedRecord) (data, ext []byte, err error) {
	if data, err = json.Marshal(r.Fields()); err != nil {
		return nil, nil, fmt.Errorf("encode record data: %w", err)
	}
	if len(r.Extensions) > 0 {
		if ext, err = json.Marshal(r.Extensions); err != nil {
			return nil, nil, fmt.Errorf("encode record extensions: %w", err)
		}
	}
	return data, ext, nil
}

func decodeRecord(r *core.StagedRecord, data, ext []byte) error {
	var fields map[string]core.Value
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode record %d: %w", r.ID, err)
	}
	d, err := core.NewEntityData(r.Key.Entity)
	if err != nil {
		return err
	}
	for code, v := range fields {
		if _, err := d.Set(code, v); err != nil {
			return fmt.Errorf("decode record %d field %s: %w", r.ID, code, err)
		}
	}
	r.Data = d
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &r.Extensions); err != nil {
			return fmt.Errorf("decode record %d extensions: %w", r.ID, err)
		}
	}
	return nil
}

func (t *txn) InsertRecords(ctx context.Context, recs []*core.StagedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		data, ext, err := encodeRecord(r)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO staged_records (submission_id, entity, state_code, bridge_number, submitter, sub_id, status, data, extensions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			r.SubmissionID, string(r.Key.Entity), r.Key.Bridge.StateCode, r.Key.Bridge.BridgeNumber,
			r.Key.Bridge.Submitter, r.Key.SubID, string(r.Status), data, ext,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for _, r := range recs {
		if err := br.QueryRow().Scan(&r.ID); err != nil {
			br.Close()
			return fmt.Errorf("insert record %s: %w", r.Key, err)
		}
	}
	return br.Close()
}

func (t *txn) LoadRecords(ctx context.Context, submissionID int64) ([]*core.StagedRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, submission_id, entity, state_code, bridge_number, submitter, sub_id, status, data, extensions
		FROM staged_records WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	var out []*core.StagedRecord
	for rows.Next() {
		var (
			r         core.StagedRecord
			entity    string
			status    string
			data, ext []byte
		)
		if err := rows.Scan(&r.ID, &r.SubmissionID, &entity, &r.Key.Bridge.StateCode, &r.Key.Bridge.BridgeNumber,
			&r.Key.Bridge.Submitter, &r.Key.SubID, &status, &data, &ext); err != nil {
			return nil, err
		}
		r.Key.Entity = core.EntityType(entity)
		r.Status = core.RecordStatus(status)
		if err := decodeRecord(&r, data, ext); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (t *txn) UpdateRecord(ctx context.Context, rec *core.StagedRecord) error {
	data, ext, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE staged_records SET status = $2, data = $3, extensions = $4 WHERE id = $1`,
		rec.ID, string(rec.Status), data, ext)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("record", rec.ID)
	}
	return nil
}

func (t *txn) DeleteRecords(ctx context.Context, submissionID int64) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM staged_records WHERE submission_id = $1`, submissionID)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *txn) DeleteChildren(ctx context.Context, submissionID int64, bridge core.BridgeKey) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM staged_records
		WHERE submission_id = $1 AND state_code = $2 AND bridge_number = $3 AND submitter = $4 AND entity <> $5`,
		submissionID, bridge.StateCode, bridge.BridgeNumber, bridge.Submitter, string(core.EntityBridge))
	if err != nil {
		return 0, fmt.Errorf("delete children: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *txn) PromoteBatch(ctx context.Context, submissionID int64) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT promote_batch($1)`, submissionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("promote batch: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Violations
// ---------------------------------------------------------------------------

func (t *txn) ReplaceViolations(ctx context.Context, submissionID int64, vs []core.Violation) error {
	if _, err := t.DeleteViolations(ctx, submissionID); err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range vs {
		vs[i].SubmissionID = submissionID
		flags, err := json.Marshal(vs[i].Flags)
		if err != nil {
			return fmt.Errorf("encode flags: %w", err)
		}
		k := vs[i].Key
		batch.Queue(`
			INSERT INTO violations (submission_id, entity, state_code, bridge_number, submitter, sub_id,
				field_code, rule_id, severity, description, flags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			submissionID, string(k.Entity), k.Bridge.StateCode, k.Bridge.BridgeNumber, k.Bridge.Submitter, k.SubID,
			vs[i].FieldCode, vs[i].RuleID, string(vs[i].Severity), vs[i].Description, flags,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for i := range vs {
		if err := br.QueryRow().Scan(&vs[i].ID); err != nil {
			br.Close()
			return fmt.Errorf("insert violation: %w", err)
		}
	}
	return br.Close()
}

const violationColumns = `id, submission_id, entity, state_code, bridge_number, submitter, sub_id,
	field_code, rule_id, severity, description, flags`

func scanViolation(row pgx.Row) (core.Violation, error) {
	var (
		v        core.Violation
		entity   string
		severity string
		flags    []byte
	)
	err := row.Scan(&v.ID, &v.SubmissionID, &entity, &v.Key.Bridge.StateCode, &v.Key.Bridge.BridgeNumber,
		&v.Key.Bridge.Submitter, &v.Key.SubID, &v.FieldCode, &v.RuleID, &severity, &v.Description, &flags)
	if err != nil {
		return v, err
	}
	v.Key.Entity = core.EntityType(entity)
	v.Severity = core.Severity(severity)
	if err := json.Unmarshal(flags, &v.Flags); err != nil {
		return v, fmt.Errorf("decode flags of violation %d: %w", v.ID, err)
	}
	return v, nil
}

func (t *txn) ListViolations(ctx context.Context, submissionID int64) ([]core.Violation, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+violationColumns+` FROM violations WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []core.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *txn) GetViolation(ctx context.Context, id int64) (*core.Violation, error) {
	v, err := scanViolation(t.tx.QueryRow(ctx, `SELECT `+violationColumns+` FROM violations WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("violation", id)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *txn) SetViolationFlag(ctx context.Context, id int64, flag core.ViolationFlag, mark *core.FlagMark) error {
	v, err := t.GetViolation(ctx, id)
	if err != nil {
		return err
	}
	v.Flags.Set(flag, mark)
	flags, err := json.Marshal(v.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `UPDATE violations SET flags = $2 WHERE id = $1`, id, flags); err != nil {
		return fmt.Errorf("update violation flags: %w", err)
	}
	return nil
}

func (t *txn) DeleteViolations(ctx context.Context, submissionID int64) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM violations WHERE submission_id = $1`, submissionID)
	if err != nil {
		return 0, fmt.Errorf("delete violations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func (t *txn) SaveReport(ctx context.Context, r *core.BatchReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO batch_reports (submission_id, artifact_key, generated_at, body) VALUES ($1, $2, $3, $4)`,
		r.SubmissionID, r.ArtifactKey, r.GeneratedAt, body)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (t *txn) LatestReport(ctx context.Context, submissionID int64) (*core.BatchReport, error) {
	var body []byte
	err := t.tx.QueryRow(ctx, `
		SELECT body FROM batch_reports WHERE submission_id = $1 ORDER BY id DESC LIMIT 1`, submissionID).Scan(&body)
	if isNoRows(err) {
		return nil, notFound("report for submission", submissionID)
	}
	if err != nil {
		return nil, err
	}
	var r core.BatchReport
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

func (t *txn) DeleteReports(ctx context.Context, submissionID int64) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		DELETE FROM batch_reports WHERE submission_id = $1 RETURNING artifact_key`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("delete reports: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

func (t *txn) AddComment(ctx context.Context, c *core.Comment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO comments (submission_id, phase, body, author, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.SubmissionID, string(c.Phase), c.Text, c.Author, c.Active, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (t *txn) ListComments(ctx context.Context, submissionID int64, includeInactive bool) ([]core.Comment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, submission_id, phase, body, author, active, created_at
		FROM comments WHERE submission_id = $1 AND (active OR $2) ORDER BY id`, submissionID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []core.Comment
	for rows.Next() {
		var c core.Comment
		var phase string
		if err := rows.Scan(&c.ID, &c.SubmissionID, &phase, &c.Text, &c.Author, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Phase = core.CommentPhase(phase)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txn) DeactivateComment(ctx context.Context, submissionID, id int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE comments SET active = FALSE WHERE id = $1 AND submission_id = $2`, id, submissionID)
	if err != nil {
		return fmt.Errorf("deactivate comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("comment", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func (t *txn) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO audit_log (action, severity, submission_id, actor, ip_address, user_agent,
			from_status, to_status, related_id, rows_affected, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		string(e.Action), string(e.Severity), e.SubmissionID, e.Actor, e.IPAddress, e.UserAgent,
		string(e.FromStatus), string(e.ToStatus), e.RelatedID, e.RowsAffected, e.Detail, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (t *txn) ListAudit(ctx context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.SubmissionID != 0 {
		args = append(args, f.SubmissionID)
		where = append(where, fmt.Sprintf("submission_id = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	q := `SELECT id, action, severity, submission_id, actor, ip_address, user_agent, from_status, to_status,
		related_id, rows_affected, detail, created_at FROM audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                          core.AuditEntry
			action, severity, from, to string
		)
		if err := rows.Scan(&e.ID, &action, &severity, &e.SubmissionID, &e.Actor, &e.IPAddress, &e.UserAgent,
			&from, &to, &e.RelatedID, &e.RowsAffected, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.FromStatus = core.Status(from)
		e.ToStatus = core.Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}
