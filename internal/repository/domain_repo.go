package repository

import (
	"context"
	"errors"
	"time"

	"ssl-monitor/internal/domain"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoDomainRepo is the default Store: domains and their check history in two collections.
type mongoDomainRepo struct {
	db           *mongo.Database
	domains      *mongo.Collection
	observations *mongo.Collection
}

func NewMongoDomainRepo(db *mongo.Database) Store {
	return &mongoDomainRepo{
		db:           db,
		domains:      db.Collection("domains"),
		observations: db.Collection("observations"),
	}
}

// EnsureIndexes creates the unique (user_id, name) index and the history index.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("domains").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("user_name_unique"),
		},
		{Keys: bson.D{{Key: "is_active", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("observations").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "domain_id", Value: 1}, {Key: "checked_at", Value: -1}},
	})
	return err
}

// ==========================================
// Domains
// ==========================================

// CreateDomain: id and timestamps are assigned here, never by the caller
func (r *mongoDomainRepo) CreateDomain(ctx context.Context, d *domain.Domain) error {
	now := time.Now().UTC()
	d.ID = primitive.NewObjectID()
	d.CreatedAt = now
	d.UpdatedAt = now

	if _, err := r.domains.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) { // user_name_unique
			return ErrDuplicateDomain
		}
		return err
	}
	return nil
}

func (r *mongoDomainRepo) GetDomain(ctx context.Context, id primitive.ObjectID) (*domain.Domain, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoDomainRepo) FindDomainByName(ctx context.Context, userID, name string) (*domain.Domain, error) {
	return r.findOne(ctx, bson.M{"user_id": userID, "name": name})
}

// UpdateDomain: only the user-editable fields are written
func (r *mongoDomainRepo) UpdateDomain(ctx context.Context, d *domain.Domain) error {
	d.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"is_active":            d.IsActive,
			"alert_threshold_days": d.AlertThresholdDays,
			"updated_at":           d.UpdatedAt,
			// name, zone and user_id never change after creation
		},
	}

	res, err := r.domains.UpdateOne(ctx, bson.M{"_id": d.ID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoDomainRepo) DeleteDomain(ctx context.Context, id primitive.ObjectID) error {
	// 1. Domain first, so AppendObservation stops accepting results for it
	res, err := r.domains.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	// 2. Then the history
	removed, err := r.observations.DeleteMany(ctx, bson.M{"domain_id": id})
	if err != nil {
		return err
	}
	logrus.Debugf("[Store] removed %d observations of deleted domain %s", removed.DeletedCount, id.Hex())
	return nil
}

func (r *mongoDomainRepo) ListDomains(ctx context.Context, userID string) ([]domain.Domain, error) {
	cursor, err := r.domains.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []domain.Domain
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// ==========================================
// Observations
// ==========================================

// AppendObservation: a result for a domain deleted mid-check is refused
func (r *mongoDomainRepo) AppendObservation(ctx context.Context, obs *domain.CertificateObservation) error {
	// 1. Domain must still exist
	n, err := r.domains.CountDocuments(ctx, bson.M{"_id": obs.DomainID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	// 2. Append (history is insert-only)
	obs.ID = primitive.NewObjectID()
	_, err = r.observations.InsertOne(ctx, obs)
	return err
}

// LatestObservation returns nil, nil for a domain never checked.
func (r *mongoDomainRepo) LatestObservation(ctx context.Context, domainID primitive.ObjectID) (*domain.CertificateObservation, error) {
	// same checked_at: the later insert wins
	opts := options.FindOne().SetSort(bson.D{{Key: "checked_at", Value: -1}, {Key: "_id", Value: -1}})

	var obs domain.CertificateObservation
	err := r.observations.FindOne(ctx, bson.M{"domain_id": domainID}, opts).Decode(&obs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (r *mongoDomainRepo) ListObservations(ctx context.Context, domainID primitive.ObjectID, limit int) ([]domain.CertificateObservation, error) {
	// 1. Unknown domain is ErrNotFound, not an empty list
	if _, err := r.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}

	// 2. Newest first, capped
	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "checked_at", Value: -1}, {Key: "_id", Value: -1}})
	findOptions.SetLimit(int64(historyLimit(limit)))

	// 3. Query
	cursor, err := r.observations.Find(ctx, bson.M{"domain_id": domainID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []domain.CertificateObservation{} // [] rather than null in JSON
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// PruneObservations deletes history older than cutoff but never a domain's newest row.
func (r *mongoDomainRepo) PruneObservations(ctx context.Context, cutoff time.Time) (int64, error) {
	// 1. Newest observation id of every domain
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "domain_id", Value: 1}, {Key: "checked_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$domain_id"},
			{Key: "newest", Value: bson.D{{Key: "$first", Value: "$_id"}}},
		}}},
	}

	cursor, err := r.observations.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	// 2. Collect the ids to keep
	var keep []primitive.ObjectID
	for cursor.Next(ctx) {
		var row struct {
			Newest primitive.ObjectID `bson:"newest"`
		}
		if err := cursor.Decode(&row); err != nil {
			return 0, err
		}
		keep = append(keep, row.Newest)
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}

	// 3. Everything older than the cutoff except those
	filter := bson.M{"checked_at": bson.M{"$lt": cutoff}}
	if len(keep) > 0 {
		filter["_id"] = bson.M{"$nin": keep}
	}

	res, err := r.observations.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ==========================================
// Snapshots
// ==========================================

func (r *mongoDomainRepo) Snapshot(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	return r.snapshot(ctx, bson.M{"user_id": userID})
}

func (r *mongoDomainRepo) ActiveSnapshot(ctx context.Context) ([]domain.Snapshot, error) {
	return r.snapshot(ctx, bson.M{"is_active": true})
}

func (r *mongoDomainRepo) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

// snapshot reads domains and their newest observation in a single aggregation, so the
// pairs are consistent with each other.
func (r *mongoDomainRepo) snapshot(ctx context.Context, match bson.M) ([]domain.Snapshot, error) {
	// 1. Domains sorted by name, each joined with its newest observation
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: r.observations.Name()},
			{Key: "let", Value: bson.D{{Key: "domain_id", Value: "$_id"}}},
			{Key: "pipeline", Value: mongo.Pipeline{
				{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{"$domain_id", "$$domain_id"}}}}}}},
				{{Key: "$sort", Value: bson.D{{Key: "checked_at", Value: -1}, {Key: "_id", Value: -1}}}},
				{{Key: "$limit", Value: 1}},
			}},
			{Key: "as", Value: "latest"},
		}}},
	}

	// 2. Run
	cursor, err := r.domains.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	type row struct {
		domain.Domain `bson:",inline"`
		Latest        []domain.CertificateObservation `bson:"latest"`
	}

	// 3. Flatten the $lookup array into a pointer
	var results []domain.Snapshot
	for cursor.Next(ctx) {
		var rw row
		if err := cursor.Decode(&rw); err != nil {
			return nil, err
		}

		s := domain.Snapshot{Domain: rw.Domain}
		if len(rw.Latest) > 0 {
			s.Latest = &rw.Latest[0]
		}
		results = append(results, s)
	}
	return results, cursor.Err()
}

func (r *mongoDomainRepo) findOne(ctx context.Context, filter bson.M) (*domain.Domain, error) {
	var d domain.Domain
	err := r.domains.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
