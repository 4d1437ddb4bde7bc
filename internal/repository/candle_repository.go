package repository

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/store"
	"github.com/yourusername/candlecore/internal/timegrid"
)

// Database wraps the MongoDB client and the single database this service
// uses. It has no candle-specific behavior of its own; it exists because
// CandleRepository and the health handler both need the same client
// lifecycle (connect once, ping for readiness, disconnect on shutdown).
type Database struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect establishes a connection to MongoDB and verifies it with a ping.
func Connect(uri, dbName string) (*Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Database{Client: client, Database: client.Database(dbName)}, nil
}

// Close disconnects from MongoDB.
func (db *Database) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return db.Client.Disconnect(ctx)
}

// HealthCheck verifies the database connection is alive.
func (db *Database) HealthCheck(ctx context.Context) error {
	return db.Client.Ping(ctx, readpref.Primary())
}

// GetCollection returns a MongoDB collection by name.
func (db *Database) GetCollection(name string) *mongo.Collection {
	return db.Database.Collection(name)
}

// monthChunk is the on-disk document for one (symbol, timeframe, year_month)
// partition slice, grounded on the teacher's OHLCVChunk: one document per
// calendar month keeps individual documents well under MongoDB's 16MB limit.
type monthChunk struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Symbol     string             `bson:"symbol"`
	Timeframe  models.Timeframe   `bson:"timeframe"`
	YearMonth  string             `bson:"year_month"`
	StartTime  time.Time          `bson:"start_time"`
	EndTime    time.Time          `bson:"end_time"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
	Candles    []models.Candle    `bson:"candles"`
}

// CandleRepository is the MongoDB-backed store.CandleRepository. Storage is
// chunked by calendar month, same as the teacher's OHLCVRepository, but
// writes are insert-ignore rather than merge-and-replace: a candle already
// on disk is a fixed fact the core never recomputes (§4.2).
type CandleRepository struct {
	chunks *mongo.Collection
}

var _ store.CandleRepository = (*CandleRepository)(nil)

// NewCandleRepository returns a CandleRepository backed by db, creating its
// indices if they do not already exist.
func NewCandleRepository(db *Database) *CandleRepository {
	chunks := db.GetCollection("candle_chunks")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chunkIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "symbol", Value: 1},
			{Key: "timeframe", Value: 1},
			{Key: "year_month", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := chunks.Indexes().CreateOne(ctx, chunkIndex); err != nil {
		log.Printf("[CANDLE_REPO] warning: failed to create chunk index: %v", err)
	}

	timeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "symbol", Value: 1},
			{Key: "timeframe", Value: 1},
			{Key: "start_time", Value: -1},
		},
	}
	if _, err := chunks.Indexes().CreateOne(ctx, timeIndex); err != nil {
		log.Printf("[CANDLE_REPO] warning: failed to create time index: %v", err)
	}

	return &CandleRepository{chunks: chunks}
}

func (r *CandleRepository) EnsurePartition(ctx context.Context, symbol string, tf models.Timeframe) error {
	return nil
}

// InsertChunk groups rows by calendar month and merges each into its
// document, skipping any boundary already present. Returns the count
// actually inserted.
func (r *CandleRepository) InsertChunk(ctx context.Context, symbol string, tf models.Timeframe, rows []models.Candle) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]models.Candle)
	for _, c := range rows {
		ym := c.YearMonth()
		byMonth[ym] = append(byMonth[ym], c)
	}

	total := 0
	for ym, candles := range byMonth {
		n, err := r.insertMonth(ctx, symbol, tf, ym, candles)
		if err != nil {
			return total, fmt.Errorf("%w: month %s: %v", store.ErrStorage, ym, err)
		}
		total += n
	}
	return total, nil
}

func (r *CandleRepository) insertMonth(ctx context.Context, symbol string, tf models.Timeframe, yearMonth string, candles []models.Candle) (int, error) {
	filter := bson.M{"symbol": symbol, "timeframe": tf, "year_month": yearMonth}
	now := time.Now()

	var existing monthChunk
	err := r.chunks.FindOne(ctx, filter).Decode(&existing)

	if err == mongo.ErrNoDocuments {
		sortDesc(candles)
		doc := monthChunk{
			ID:        primitive.NewObjectID(),
			Symbol:    symbol,
			Timeframe: tf,
			YearMonth: yearMonth,
			StartTime: candles[len(candles)-1].UTCBoundary,
			EndTime:   candles[0].UTCBoundary,
			CreatedAt: now,
			UpdatedAt: now,
			Candles:   candles,
		}
		if _, err := r.chunks.InsertOne(ctx, doc); err != nil {
			return 0, err
		}
		return len(candles), nil
	}
	if err != nil {
		return 0, err
	}

	present := make(map[int64]bool, len(existing.Candles))
	for _, c := range existing.Candles {
		present[c.UTCBoundary.UnixNano()] = true
	}

	var fresh []models.Candle
	for _, c := range candles {
		if !present[c.UTCBoundary.UnixNano()] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	merged := append(existing.Candles, fresh...)
	sortDesc(merged)

	update := bson.M{"$set": bson.M{
		"candles":    merged,
		"start_time": merged[len(merged)-1].UTCBoundary,
		"end_time":   merged[0].UTCBoundary,
		"updated_at": now,
	}}
	if _, err := r.chunks.UpdateOne(ctx, filter, update); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// GetRange loads every monthChunk overlapping r and returns the rows within
// r, descending.
func (r *CandleRepository) GetRange(ctx context.Context, symbol string, tf models.Timeframe, rng store.Range) ([]models.Candle, error) {
	months := monthsBetween(rng.Start, rng.End)
	filter := bson.M{"symbol": symbol, "timeframe": tf, "year_month": bson.M{"$in": months}}

	cursor, err := r.chunks.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer cursor.Close(ctx)

	var docs []monthChunk
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	out := make([]models.Candle, 0)
	for _, doc := range docs {
		for _, c := range doc.Candles {
			if !c.UTCBoundary.Before(rng.Start) && !c.UTCBoundary.After(rng.End) {
				out = append(out, c)
			}
		}
	}
	sortDesc(out)
	return out, nil
}

func (r *CandleRepository) FirstContiguousRun(ctx context.Context, symbol string, tf models.Timeframe, startAt time.Time) (time.Time, bool, error) {
	rows, err := r.GetRange(ctx, symbol, tf, store.Range{Start: time.Time{}, End: startAt})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 || !rows[0].UTCBoundary.Equal(startAt) {
		return time.Time{}, false, nil
	}

	present := make(map[int64]bool, len(rows))
	for _, c := range rows {
		present[c.UTCBoundary.UnixNano()] = true
	}

	cur := startAt.UTC()
	for {
		prev, err := timegrid.Advance(cur, tf, -1)
		if err != nil {
			return time.Time{}, false, err
		}
		if !present[prev.UnixNano()] {
			return cur, true, nil
		}
		cur = prev
	}
}

func (r *CandleRepository) CountInRange(ctx context.Context, symbol string, tf models.Timeframe, rng store.Range) (int, error) {
	rows, err := r.GetRange(ctx, symbol, tf, rng)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (r *CandleRepository) FindGapsInRange(ctx context.Context, symbol string, tf models.Timeframe, rng store.Range) ([]store.Range, error) {
	rows, err := r.GetRange(ctx, symbol, tf, rng)
	if err != nil {
		return nil, err
	}
	present := make(map[int64]bool, len(rows))
	for _, c := range rows {
		present[c.UTCBoundary.UnixNano()] = true
	}

	boundaries, err := timegrid.Enumerate(rng.Start, rng.End, tf)
	if err != nil {
		return nil, err
	}

	var gaps []store.Range
	i := 0
	for i < len(boundaries) {
		if present[boundaries[i].UnixNano()] {
			i++
			continue
		}
		start := boundaries[i]
		j := i
		for j < len(boundaries) && !present[boundaries[j].UnixNano()] {
			j++
		}
		gaps = append(gaps, store.Range{Start: start, End: boundaries[j-1]})
		i = j
	}
	return gaps, nil
}

// QualityReport implements the supplemental data-quality operation,
// grounded on the teacher's AnalyzeDataQuality / detectGaps.
func (r *CandleRepository) QualityReport(ctx context.Context, symbol string, tf models.Timeframe) (*store.QualityReport, error) {
	cursor, err := r.chunks.Find(ctx, bson.M{"symbol": symbol, "timeframe": tf})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer cursor.Close(ctx)

	var docs []monthChunk
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	report := &store.QualityReport{Symbol: symbol, Timeframe: tf}
	var all []models.Candle
	for _, doc := range docs {
		all = append(all, doc.Candles...)
	}
	if len(all) == 0 {
		return report, nil
	}
	sortDesc(all)

	report.TotalCandles = len(all)
	report.NewestBoundary = all[0].UTCBoundary
	report.OldestBoundary = all[len(all)-1].UTCBoundary

	for _, c := range all {
		if c.SourceTag == models.SourceReal {
			report.RealCandles++
		} else {
			report.EmptyCopyCount++
		}
	}

	gaps, err := r.FindGapsInRange(ctx, symbol, tf, store.Range{Start: report.OldestBoundary, End: report.NewestBoundary})
	if err != nil {
		return nil, err
	}
	report.GapCount = len(gaps)
	for _, g := range gaps {
		report.GapTotal += g.End.Sub(g.Start)
	}
	return report, nil
}

func sortDesc(candles []models.Candle) {
	sort.Slice(candles, func(i, j int) bool { return candles[i].UTCBoundary.After(candles[j].UTCBoundary) })
}

func monthsBetween(start, end time.Time) []string {
	months := make([]string, 0)
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		months = append(months, cur.Format("2006-01"))
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}
