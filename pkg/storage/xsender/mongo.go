package xsender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// mongoStore 基于 MongoDB 的发送者档案存储。
type mongoStore struct {
	client     *mongo.Client
	senders    *mongo.Collection
	violations *mongo.Collection
	opts       *options
	closed     atomic.Bool
}

// NewMongo 创建 MongoDB 发送者档案存储。
// client 必须是已初始化的 mongo.Client，生命周期由调用方管理。
func NewMongo(client *mongo.Client, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	db := client.Database(o.database)
	return &mongoStore{
		client:     client,
		senders:    db.Collection(o.senderCollection),
		violations: db.Collection(o.violationCollection),
		opts:       o,
	}, nil
}

func (s *mongoStore) guard(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// EnsureIndexes 创建查询所需的索引。幂等。
func (s *mongoStore) EnsureIndexes(ctx context.Context) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	_, err := s.senders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "banned_until", Value: 1}}, Options: mongooptions.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "tier", Value: 1}, {Key: "first_seen_at", Value: 1}}},
		{Keys: bson.D{{Key: "last_seen_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("xsender: create sender indexes: %w", err)
	}

	_, err = s.violations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "occurred_at", Value: -1}}},
		{Keys: bson.D{{Key: "occurred_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("xsender: create violation indexes: %w", err)
	}
	return nil
}

// =============================================================================
// 档案操作
// =============================================================================

func (s *mongoStore) Get(ctx context.Context, id string) (*Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptySender
	}

	var sender Sender
	err := s.senders.FindOne(ctx, bson.M{"_id": id}).Decode(&sender)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xsender: get %q: %w", id, err)
	}
	return &sender, nil
}

func (s *mongoStore) Touch(ctx context.Context, id string, at time.Time) (*Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptySender
	}

	at = at.UTC()
	update := bson.M{
		"$setOnInsert": bson.M{
			"first_seen_at": at,
			"tier":          s.opts.defaultTier,
		},
		"$set": bson.M{"last_seen_at": at},
		"$inc": bson.M{"message_count": 1},
	}

	var sender Sender
	err := s.senders.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		mongooptions.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(mongooptions.After),
	).Decode(&sender)
	if err != nil {
		return nil, fmt.Errorf("xsender: touch %q: %w", id, err)
	}
	return &sender, nil
}

func (s *mongoStore) SetTier(ctx context.Context, id, tier string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	res, err := s.senders.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"tier": tier}})
	if err != nil {
		return fmt.Errorf("xsender: set tier %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) SetVerified(ctx context.Context, id string, verified bool) error {
	return s.setFlag(ctx, id, "verified", verified)
}

func (s *mongoStore) SetPremium(ctx context.Context, id string, until time.Time) error {
	return s.setFlag(ctx, id, "premium_until", until.UTC())
}

func (s *mongoStore) setFlag(ctx context.Context, id, field string, value any) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	res, err := s.senders.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("xsender: set %s for %q: %w", field, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// 封禁镜像
// =============================================================================

func (s *mongoStore) SetBan(ctx context.Context, id string, until time.Time, reason string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	now := time.Now().UTC()
	update := bson.M{
		"$setOnInsert": bson.M{
			"first_seen_at": now,
			"last_seen_at":  now,
			"tier":          s.opts.defaultTier,
		},
		"$set": bson.M{
			"banned_until": until.UTC(),
			"ban_reason":   reason,
		},
	}
	// 未建档的发送者也可能被封禁（如首条消息即触发模式规则），
	// 因此带 upsert。
	_, err := s.senders.UpdateOne(ctx, bson.M{"_id": id}, update,
		mongooptions.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("xsender: set ban %q: %w", id, err)
	}
	return nil
}

func (s *mongoStore) ClearBan(ctx context.Context, id string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	_, err := s.senders.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$unset": bson.M{"banned_until": "", "ban_reason": ""}})
	if err != nil {
		return fmt.Errorf("xsender: clear ban %q: %w", id, err)
	}
	return nil
}

// =============================================================================
// 违规记录
// =============================================================================

func (s *mongoStore) AppendViolation(ctx context.Context, v *Violation) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if v == nil {
		return ErrNilViolation
	}
	if v.Sender == "" {
		return ErrEmptySender
	}

	doc := *v
	doc.OccurredAt = doc.OccurredAt.UTC()
	if _, err := s.violations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("xsender: append violation for %q: %w", v.Sender, err)
	}
	return nil
}

func (s *mongoStore) CountViolationsSince(ctx context.Context, sender string, since time.Time) (int64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	if sender == "" {
		return 0, ErrEmptySender
	}

	n, err := s.violations.CountDocuments(ctx, bson.M{
		"sender":      sender,
		"occurred_at": bson.M{"$gte": since.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("xsender: count violations for %q: %w", sender, err)
	}
	return n, nil
}

func (s *mongoStore) ListViolations(ctx context.Context, sender string, limit int64) ([]Violation, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if sender == "" {
		return nil, ErrEmptySender
	}
	if limit <= 0 {
		limit = s.opts.listLimit
	}

	cursor, err := s.violations.Find(ctx, bson.M{"sender": sender},
		mongooptions.Find().
			SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("xsender: list violations for %q: %w", sender, err)
	}

	var out []Violation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("xsender: decode violations for %q: %w", sender, err)
	}
	return out, nil
}

// =============================================================================
// 维护任务扫描
// =============================================================================

func (s *mongoStore) ListBannedExpiredBefore(ctx context.Context, cutoff time.Time, limit int64) ([]Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.listLimit
	}

	filter := bson.M{"banned_until": bson.M{
		"$exists": true,
		"$lte":    cutoff.UTC(),
	}}
	return s.findSenders(ctx, filter, limit)
}

func (s *mongoStore) ListTierCandidates(ctx context.Context, tier string, firstSeenBefore time.Time, limit int64) ([]Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.listLimit
	}

	filter := bson.M{
		"tier":          tier,
		"first_seen_at": bson.M{"$lt": firstSeenBefore.UTC()},
	}
	return s.findSenders(ctx, filter, limit)
}

func (s *mongoStore) findSenders(ctx context.Context, filter bson.M, limit int64) ([]Sender, error) {
	cursor, err := s.senders.Find(ctx, filter, mongooptions.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("xsender: find senders: %w", err)
	}
	var out []Sender
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("xsender: decode senders: %w", err)
	}
	return out, nil
}

func (s *mongoStore) DeleteViolationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}

	res, err := s.violations.DeleteMany(ctx, bson.M{
		"occurred_at": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("xsender: delete violations before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}

	// 封禁镜像尚未清理的档案一律保留，先解封再进入保留期清理。
	res, err := s.senders.DeleteMany(ctx, bson.M{
		"last_seen_at": bson.M{"$lt": cutoff.UTC()},
		"banned_until": bson.M{"$exists": false},
	})
	if err != nil {
		return 0, fmt.Errorf("xsender: delete inactive before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.DeletedCount, nil
}

// =============================================================================
// 汇总与生命周期
// =============================================================================

func (s *mongoStore) Counts(ctx context.Context, now time.Time) (*Counts, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	now = now.UTC()

	total, err := s.senders.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("xsender: count senders: %w", err)
	}

	banned, err := s.senders.CountDocuments(ctx, bson.M{
		"banned_until": bson.M{"$gt": now},
	})
	if err != nil {
		return nil, fmt.Errorf("xsender: count banned: %w", err)
	}

	violations, err := s.violations.CountDocuments(ctx, bson.M{
		"occurred_at": bson.M{"$gte": now.Add(-24 * time.Hour)},
	})
	if err != nil {
		return nil, fmt.Errorf("xsender: count recent violations: %w", err)
	}

	byTier, err := s.countByTier(ctx)
	if err != nil {
		return nil, err
	}

	return &Counts{
		Senders:           total,
		Banned:            banned,
		ByTier:            byTier,
		ViolationsLastDay: violations,
	}, nil
}

func (s *mongoStore) countByTier(ctx context.Context) (map[string]int64, error) {
	cursor, err := s.senders.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$tier"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("xsender: aggregate by tier: %w", err)
	}

	var rows []struct {
		Tier  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("xsender: decode tier counts: %w", err)
	}

	byTier := make(map[string]int64, len(rows))
	for _, row := range rows {
		byTier[row.Tier] = row.Count
	}
	return byTier, nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close 标记存储关闭。注入的客户端由调用方负责断连。
func (s *mongoStore) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

// 确保 mongoStore 实现了 Store 接口。
var _ Store = (*mongoStore)(nil)
