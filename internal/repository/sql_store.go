package repository

import (
	"context"
	"errors"
	"time"

	"ssl-monitor/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row models. IDs are ObjectID hex strings so every driver hands out the same kind of id.

type domainRow struct {
	ID                 string `gorm:"primaryKey;size:24"`
	UserID             string `gorm:"size:128;not null;uniqueIndex:idx_domains_user_name"`
	Name               string `gorm:"size:253;not null;uniqueIndex:idx_domains_user_name"`
	Zone               string `gorm:"size:253"`
	IsActive           bool   `gorm:"not null;index"`
	AlertThresholdDays int    `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (domainRow) TableName() string { return "domains" }

type observationRow struct {
	ID              string    `gorm:"primaryKey;size:24"`
	DomainID        string    `gorm:"size:24;not null;index:idx_observations_domain_checked,priority:1"`
	CheckedAt       time.Time `gorm:"not null;index:idx_observations_domain_checked,priority:2"`
	IsValid         bool
	NotValidBefore  *time.Time
	NotValidAfter   *time.Time
	Issuer          string
	Subject         string
	TLSVersion      string `gorm:"size:16"`
	ValidationError string
	ErrorMessage    string
}

func (observationRow) TableName() string { return "observations" }

// Models lists the tables AutoMigrate must create.
func Models() []interface{} {
	return []interface{}{&domainRow{}, &observationRow{}}
}

// sqlDomainRepo is the gorm Store for postgres and sqlite.
type sqlDomainRepo struct {
	db *gorm.DB
}

// NewSQLDomainRepo stores into postgres or sqlite through gorm. The schema must already
// exist (see database.OpenSQL).
func NewSQLDomainRepo(db *gorm.DB) Store {
	return &sqlDomainRepo{db: db}
}

// ==========================================
// Domains
// ==========================================

func (r *sqlDomainRepo) CreateDomain(ctx context.Context, d *domain.Domain) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Friendly duplicate check (the unique index is the real guard)
		var n int64
		if err := tx.Model(&domainRow{}).Where("user_id = ? AND name = ?", d.UserID, d.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateDomain
		}

		// 2. Identity and timestamps
		now := time.Now().UTC()
		d.ID = primitive.NewObjectID()
		d.CreatedAt = now
		d.UpdatedAt = now

		// 3. Insert; a racing insert trips the index instead
		row := toDomainRow(d)
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) { // needs TranslateError
				return ErrDuplicateDomain
			}
			return err
		}
		return nil
	})
}

func (r *sqlDomainRepo) GetDomain(ctx context.Context, id primitive.ObjectID) (*domain.Domain, error) {
	return r.findDomain(ctx, "id = ?", id.Hex())
}

func (r *sqlDomainRepo) FindDomainByName(ctx context.Context, userID, name string) (*domain.Domain, error) {
	return r.findDomain(ctx, "user_id = ? AND name = ?", userID, name)
}

// UpdateDomain: map form so false / 0 are written too
func (r *sqlDomainRepo) UpdateDomain(ctx context.Context, d *domain.Domain) error {
	d.UpdatedAt = time.Now().UTC()

	res := r.db.WithContext(ctx).Model(&domainRow{}).Where("id = ?", d.ID.Hex()).Updates(map[string]interface{}{
		"is_active":            d.IsActive,
		"alert_threshold_days": d.AlertThresholdDays,
		"updated_at":           d.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlDomainRepo) DeleteDomain(ctx context.Context, id primitive.ObjectID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Domain
		res := tx.Where("id = ?", id.Hex()).Delete(&domainRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		// 2. History, same transaction
		return tx.Where("domain_id = ?", id.Hex()).Delete(&observationRow{}).Error
	})
}

func (r *sqlDomainRepo) ListDomains(ctx context.Context, userID string) ([]domain.Domain, error) {
	var rows []domainRow
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Domain, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ==========================================
// Observations
// ==========================================

func (r *sqlDomainRepo) AppendObservation(ctx context.Context, obs *domain.CertificateObservation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Lock the parent row so a concurrent delete cannot leave an orphan behind
		//    (sqlite drops FOR UPDATE; its single writer serializes anyway)
		var parent domainRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", obs.DomainID.Hex()).Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		// 2. Append
		obs.ID = primitive.NewObjectID()
		row := toObservationRow(obs)
		return tx.Create(&row).Error
	})
}

// LatestObservation returns nil, nil for a domain never checked.
func (r *sqlDomainRepo) LatestObservation(ctx context.Context, domainID primitive.ObjectID) (*domain.CertificateObservation, error) {
	var row observationRow
	err := r.db.WithContext(ctx).
		Where("domain_id = ?", domainID.Hex()).
		Order("checked_at DESC").Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	obs := row.toObservation()
	return &obs, nil
}

func (r *sqlDomainRepo) ListObservations(ctx context.Context, domainID primitive.ObjectID, limit int) ([]domain.CertificateObservation, error) {
	// 1. Unknown domain is ErrNotFound
	if _, err := r.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}

	// 2. Newest first, capped
	var rows []observationRow
	err := r.db.WithContext(ctx).
		Where("domain_id = ?", domainID.Hex()).
		Order("checked_at DESC").Order("id DESC").
		Limit(historyLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.CertificateObservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toObservation())
	}
	return out, nil
}

// PruneObservations keeps each domain's newest row whatever its age.
func (r *sqlDomainRepo) PruneObservations(ctx context.Context, cutoff time.Time) (int64, error) {
	// correlated subquery works on both postgres and sqlite
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM observations
		 WHERE checked_at < ?
		   AND checked_at < (SELECT MAX(o2.checked_at) FROM observations o2 WHERE o2.domain_id = observations.domain_id)`,
		cutoff.UTC(),
	)
	return res.RowsAffected, res.Error
}

// ==========================================
// Snapshots
// ==========================================

func (r *sqlDomainRepo) Snapshot(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	return r.snapshot(ctx, "user_id = ?", userID)
}

func (r *sqlDomainRepo) ActiveSnapshot(ctx context.Context) ([]domain.Snapshot, error) {
	return r.snapshot(ctx, "is_active = ?", true)
}

func (r *sqlDomainRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// snapshot reads inside one transaction so domains and observations agree.
func (r *sqlDomainRepo) snapshot(ctx context.Context, query string, args ...interface{}) ([]domain.Snapshot, error) {
	var results []domain.Snapshot

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Domains
		var rows []domainRow
		if err := tx.Where(query, args...).Order("name").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil // IN () is invalid SQL
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}

		// 2. Newest observation per domain
		var latest []observationRow
		err := tx.Raw(
			`SELECT o.* FROM observations o
			 JOIN (SELECT domain_id, MAX(checked_at) AS newest FROM observations WHERE domain_id IN ? GROUP BY domain_id) l
			   ON o.domain_id = l.domain_id AND o.checked_at = l.newest`,
			ids,
		).Scan(&latest).Error
		if err != nil {
			return err
		}

		byDomain := make(map[string]observationRow, len(latest))
		for _, o := range latest {
			// equal timestamps: the larger id is the later insert
			if cur, ok := byDomain[o.DomainID]; !ok || o.ID > cur.ID {
				byDomain[o.DomainID] = o
			}
		}

		// 3. Pair them up
		results = make([]domain.Snapshot, 0, len(rows))
		for _, row := range rows {
			s := domain.Snapshot{Domain: row.toDomain()}
			if o, ok := byDomain[row.ID]; ok {
				obs := o.toObservation()
				s.Latest = &obs
			}
			results = append(results, s)
		}
		return nil
	})
	return results, err
}

func (r *sqlDomainRepo) findDomain(ctx context.Context, query string, args ...interface{}) (*domain.Domain, error) {
	var row domainRow
	err := r.db.WithContext(ctx).Where(query, args...).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d := row.toDomain()
	return &d, nil
}

// ==========================================
// Mapping
// ==========================================

func toDomainRow(d *domain.Domain) domainRow {
	return domainRow{
		ID:                 d.ID.Hex(),
		UserID:             d.UserID,
		Name:               d.Name,
		Zone:               d.Zone,
		IsActive:           d.IsActive,
		AlertThresholdDays: d.AlertThresholdDays,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func (row domainRow) toDomain() domain.Domain {
	id, _ := primitive.ObjectIDFromHex(row.ID)
	return domain.Domain{
		ID:                 id,
		UserID:             row.UserID,
		Name:               row.Name,
		Zone:               row.Zone,
		IsActive:           row.IsActive,
		AlertThresholdDays: row.AlertThresholdDays,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
}

func toObservationRow(o *domain.CertificateObservation) observationRow {
	return observationRow{
		ID:              o.ID.Hex(),
		DomainID:        o.DomainID.Hex(),
		CheckedAt:       o.CheckedAt.UTC(),
		IsValid:         o.IsValid,
		NotValidBefore:  utcPtr(o.NotValidBefore),
		NotValidAfter:   utcPtr(o.NotValidAfter),
		Issuer:          o.Issuer,
		Subject:         o.Subject,
		TLSVersion:      o.TLSVersion,
		ValidationError: o.ValidationError,
		ErrorMessage:    o.ErrorMessage,
	}
}

func (row observationRow) toObservation() domain.CertificateObservation {
	id, _ := primitive.ObjectIDFromHex(row.ID)
	domainID, _ := primitive.ObjectIDFromHex(row.DomainID)
	return domain.CertificateObservation{
		ID:              id,
		DomainID:        domainID,
		CheckedAt:       row.CheckedAt.UTC(),
		IsValid:         row.IsValid,
		NotValidBefore:  utcPtr(row.NotValidBefore),
		NotValidAfter:   utcPtr(row.NotValidAfter),
		Issuer:          row.Issuer,
		Subject:         row.Subject,
		TLSVersion:      row.TLSVersion,
		ValidationError: row.ValidationError,
		ErrorMessage:    row.ErrorMessage,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
