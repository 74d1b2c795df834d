package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scamnemesis/report-engine/internal/models"
)

var (
	ErrReportNotFound      = errors.New("report not found")
	ErrReportAlreadyMerged = errors.New("report already merged")
)

// Identifier is a normalized identifier extracted from a report, stored
// for indexed candidate lookup
type Identifier struct {
	Kind  string
	Value string
}

// Identifier kinds
const (
	IdentifierPhone      = "phone"
	IdentifierEmail      = "email"
	IdentifierEmailLocal = "email_local"
	IdentifierIBAN       = "iban"
	IdentifierWallet     = "wallet"
	IdentifierName       = "name"
	IdentifierNamePhonic = "name_phonic"
	IdentifierCity       = "city"
	IdentifierWebsite    = "website"
)

// ReportRepository handles report database operations
type ReportRepository struct {
	db *Database
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *Database) *ReportRepository {
	return &ReportRepository{db: db}
}

// NextCaseNumber allocates the next sequential case number (SR-000001 format)
func (r *ReportRepository) NextCaseNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT nextval('case_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to allocate case number: %w", err)
	}
	return fmt.Sprintf("SR-%06d", seq), nil
}

// Create creates a new report with its sub-records in a single transaction
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	report.ID = uuid.New()
	report.Status = models.ReportStatusPending
	report.CreatedAt = time.Now()
	report.UpdatedAt = report.CreatedAt

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO reports (
				id, case_number, fraud_type, summary, description, financial_loss,
				currency, city, country, status, merge_count, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12)
		`
		_, err := tx.Exec(ctx, query,
			report.ID,
			report.CaseNumber,
			report.FraudType,
			report.Summary,
			report.Description,
			report.FinancialLoss,
			report.Currency,
			report.City,
			report.Country,
			report.Status,
			report.CreatedAt,
			report.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for i := range report.Perpetrators {
			p := &report.Perpetrators[i]
			p.ID = uuid.New()
			p.ReportID = report.ID
			_, err := tx.Exec(ctx, `
				INSERT INTO perpetrators (id, report_id, full_name, nickname, email, phone)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, p.ID, p.ReportID, p.FullName, p.Nickname, p.Email, p.Phone)
			if err != nil {
				return err
			}
		}

		if fi := report.FinancialInfo; fi != nil {
			fi.ID = uuid.New()
			fi.ReportID = report.ID
			_, err := tx.Exec(ctx, `
				INSERT INTO financial_info (id, report_id, iban, bank_name, bank_country)
				VALUES ($1, $2, $3, $4, $5)
			`, fi.ID, fi.ReportID, fi.IBAN, fi.BankName, fi.BankCountry)
			if err != nil {
				return err
			}
		}

		if ci := report.CryptoInfo; ci != nil {
			ci.ID = uuid.New()
			ci.ReportID = report.ID
			_, err := tx.Exec(ctx, `
				INSERT INTO crypto_info (id, report_id, wallet_address, blockchain)
				VALUES ($1, $2, $3, $4)
			`, ci.ID, ci.ReportID, ci.WalletAddress, ci.Blockchain)
			if err != nil {
				return err
			}
		}

		if df := report.DigitalFootprint; df != nil {
			df.ID = uuid.New()
			df.ReportID = report.ID
			_, err := tx.Exec(ctx, `
				INSERT INTO digital_footprints (id, report_id, website, social_handles)
				VALUES ($1, $2, $3, $4)
			`, df.ID, df.ReportID, df.Website, df.SocialHandles)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// GetByID retrieves a report with its sub-records
func (r *ReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	query := `
		SELECT id, case_number, fraud_type, summary, description, financial_loss,
			   currency, city, country, status, merged_into_id, merge_count,
			   created_at, updated_at
		FROM reports
		WHERE id = $1
	`

	report := &models.Report{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&report.ID,
		&report.CaseNumber,
		&report.FraudType,
		&report.Summary,
		&report.Description,
		&report.FinancialLoss,
		&report.Currency,
		&report.City,
		&report.Country,
		&report.Status,
		&report.MergedIntoID,
		&report.MergeCount,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	if err := r.loadSubRecords(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// GetByIDs retrieves multiple reports with their sub-records
func (r *ReportRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Report, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, case_number, fraud_type, summary, description, financial_loss,
			   currency, city, country, status, merged_into_id, merge_count,
			   created_at, updated_at
		FROM reports
		WHERE id = ANY($1)
	`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		report := &models.Report{}
		if err := rows.Scan(
			&report.ID,
			&report.CaseNumber,
			&report.FraudType,
			&report.Summary,
			&report.Description,
			&report.FinancialLoss,
			&report.Currency,
			&report.City,
			&report.Country,
			&report.Status,
			&report.MergedIntoID,
			&report.MergeCount,
			&report.CreatedAt,
			&report.UpdatedAt,
		); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, report := range reports {
		if err := r.loadSubRecords(ctx, report); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// MarkMerged marks a report as merged into the primary within a transaction,
// and increments the primary's merge count
func (r *ReportRepository) MarkMerged(ctx context.Context, tx pgx.Tx, id, primaryID uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE reports
		SET status = $3, merged_into_id = $2, updated_at = NOW()
		WHERE id = $1 AND status != $3
	`, id, primaryID, models.ReportStatusMerged)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrReportAlreadyMerged
	}

	_, err = tx.Exec(ctx, `
		UPDATE reports SET merge_count = merge_count + 1, updated_at = NOW() WHERE id = $1
	`, primaryID)
	return err
}

// ReplaceIdentifiers replaces the indexed identifiers for a report
func (r *ReportRepository) ReplaceIdentifiers(ctx context.Context, reportID uuid.UUID, identifiers []Identifier) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM report_identifiers WHERE report_id = $1`, reportID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, ident := range identifiers {
			batch.Queue(`
				INSERT INTO report_identifiers (report_id, kind, value)
				VALUES ($1, $2, $3)
				ON CONFLICT (report_id, kind, value) DO NOTHING
			`, reportID, ident.Kind, ident.Value)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range identifiers {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCandidateIDs returns IDs of active reports sharing at least one indexed
// identifier with the given values, excluding the report itself
func (r *ReportRepository) GetCandidateIDs(ctx context.Context, reportID uuid.UUID, identifiers []Identifier, limit int) ([]uuid.UUID, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}

	kinds := make([]string, 0, len(identifiers))
	values := make([]string, 0, len(identifiers))
	for _, ident := range identifiers {
		kinds = append(kinds, ident.Kind)
		values = append(values, ident.Value)
	}

	// Oldest reports first so recall under the limit is stable across re-runs
	query := `
		SELECT ri.report_id
		FROM report_identifiers ri
		JOIN reports rep ON rep.id = ri.report_id
		JOIN unnest($2::text[], $3::text[]) AS ident(kind, value)
			ON ri.kind = ident.kind AND ri.value = ident.value
		WHERE ri.report_id != $1
		  AND rep.status IN ($4, $5)
		GROUP BY ri.report_id, rep.created_at
		ORDER BY rep.created_at, ri.report_id
		LIMIT $6
	`

	rows, err := r.db.Pool.Query(ctx, query, reportID, kinds, values,
		models.ReportStatusPending, models.ReportStatusApproved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List retrieves reports with pagination, optionally filtered by status
func (r *ReportRepository) List(ctx context.Context, status string, page, pageSize int) ([]*models.Report, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM reports WHERE ($1 = '' OR status = $1)`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, case_number, fraud_type, summary, description, financial_loss,
			   currency, city, country, status, merged_into_id, merge_count,
			   created_at, updated_at
		FROM reports
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		report := &models.Report{}
		if err := rows.Scan(
			&report.ID,
			&report.CaseNumber,
			&report.FraudType,
			&report.Summary,
			&report.Description,
			&report.FinancialLoss,
			&report.Currency,
			&report.City,
			&report.Country,
			&report.Status,
			&report.MergedIntoID,
			&report.MergeCount,
			&report.CreatedAt,
			&report.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		reports = append(reports, report)
	}
	return reports, total, rows.Err()
}

func (r *ReportRepository) loadSubRecords(ctx context.Context, report *models.Report) error {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, report_id, full_name, nickname, email, phone
		FROM perpetrators WHERE report_id = $1
	`, report.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Perpetrator
		if err := rows.Scan(&p.ID, &p.ReportID, &p.FullName, &p.Nickname, &p.Email, &p.Phone); err != nil {
			return err
		}
		report.Perpetrators = append(report.Perpetrators, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fi := &models.FinancialInfo{}
	err = r.db.Pool.QueryRow(ctx, `
		SELECT id, report_id, iban, bank_name, bank_country
		FROM financial_info WHERE report_id = $1
	`, report.ID).Scan(&fi.ID, &fi.ReportID, &fi.IBAN, &fi.BankName, &fi.BankCountry)
	if err == nil {
		report.FinancialInfo = fi
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	ci := &models.CryptoInfo{}
	err = r.db.Pool.QueryRow(ctx, `
		SELECT id, report_id, wallet_address, blockchain
		FROM crypto_info WHERE report_id = $1
	`, report.ID).Scan(&ci.ID, &ci.ReportID, &ci.WalletAddress, &ci.Blockchain)
	if err == nil {
		report.CryptoInfo = ci
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	df := &models.DigitalFootprint{}
	err = r.db.Pool.QueryRow(ctx, `
		SELECT id, report_id, website, social_handles
		FROM digital_footprints WHERE report_id = $1
	`, report.ID).Scan(&df.ID, &df.ReportID, &df.Website, &df.SocialHandles)
	if err == nil {
		report.DigitalFootprint = df
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	return nil
}
