package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"AmberPull/internal/domain/models"
	domrepo "AmberPull/internal/domain/repository"
	pkgch "AmberPull/pkg/clickhouse"
	pkgkafka "AmberPull/pkg/kafka"
	applogger "AmberPull/pkg/logger"

	"github.com/google/uuid"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink stores confirmed interval prices in a ReplacingMergeTree
// table keyed by site, channel and interval start, so replays are idempotent.
type ClickHouseSink struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.PriceSink = (*ClickHouseSink)(nil)

func NewClickHouseSink(ch *pkgch.Client, table string, l *applogger.Logger) (*ClickHouseSink, error) {
	if table == "" {
		table = ch.Database() + ".confirmed_prices"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &ClickHouseSink{ch: ch, db: ch.DB(), table: table, l: applogger.OrNop(l).With("clickhouse_sink")}, nil
}

func (s *ClickHouseSink) Init(ctx context.Context) error {
	stmts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		interval_start DateTime('UTC'),
		site_id String,
		channel LowCardinality(String),
		per_kwh Float64,
		spot_per_kwh Float64,
		renewables Float64,
		descriptor LowCardinality(String),
		detected_after Float64,
		source LowCardinality(String),
		inserted_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(inserted_at)
	ORDER BY (site_id, channel, interval_start)`, s.table)}
	if db, _, ok := strings.Cut(s.table, "."); ok {
		stmts = append([]string{"CREATE DATABASE IF NOT EXISTS " + db}, stmts...)
	}
	return s.ch.InitSchema(ctx, stmts)
}

func (s *ClickHouseSink) Write(ctx context.Context, prices []models.ConfirmedPrice) error {
	if len(prices) == 0 {
		return nil
	}
	start := time.Now()
	values := make([]string, 0, len(prices))
	args := make([]interface{}, 0, len(prices)*9)
	for _, p := range prices {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			p.IntervalStart.UTC(),
			p.SiteID,
			p.Channel,
			p.PerKWh,
			p.SpotPerKWh,
			p.Renewables,
			p.Descriptor,
			p.DetectedAfter,
			p.Source,
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (interval_start, site_id, channel, per_kwh, spot_per_kwh, renewables, descriptor, detected_after, source) VALUES %s",
		s.table, strings.Join(values, ", "))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse insert error",
			applogger.String("table", s.table),
			applogger.Int("rows", len(prices)),
			applogger.Error(err),
		)
		return fmt.Errorf("insert confirmed prices: %w", err)
	}
	s.l.Debug("clickhouse insert ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(prices)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// Close is a no-op; the pool belongs to the clickhouse client.
func (s *ClickHouseSink) Close() error { return nil }

// KafkaSink publishes one JSON event per confirmed price, keyed by
// site and channel so a channel's events stay ordered per partition.
type KafkaSink struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.PriceSink = (*KafkaSink)(nil)

func NewKafkaSink(producer *pkgkafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Init(context.Context) error {
	if k.topic == "" {
		return fmt.Errorf("kafka sink: topic is required")
	}
	return nil
}

func (k *KafkaSink) Write(ctx context.Context, prices []models.ConfirmedPrice) error {
	if len(prices) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(prices))
	for i, p := range prices {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(p.SiteID + ":" + p.Channel),
			Value:   p,
			Headers: map[string]string{"event": "price.confirmed", "event_id": uuid.NewString()},
		}
	}
	return k.producer.PublishBatch(ctx, k.topic, msgs)
}

func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// NopSink drops everything; used when no sink backend is configured.
type NopSink struct{}

var _ domrepo.PriceSink = NopSink{}

func (NopSink) Init(context.Context) error                          { return nil }
func (NopSink) Write(context.Context, []models.ConfirmedPrice) error { return nil }
func (NopSink) Close() error                                        { return nil }
