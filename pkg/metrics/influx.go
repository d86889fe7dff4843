package metrics

import (
	"context"
	"time"

	"github.com/cuemby/squares/pkg/events"
	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/types"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

const (
	measurementReceived = "squares_received"
	measurementPair     = "squares"

	// beforeOffset separates the before and after points of one commit so
	// they do not overwrite each other in a series
	beforeOffset = time.Millisecond
)

// PointWriter is the subset of api.WriteAPIBlocking used by the sink
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// NameResolver resolves a user id to a display name
type NameResolver interface {
	Name(ctx context.Context, userID string) string
}

// InfluxConfig holds the connection settings of the time-series sink
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes per-user tallies around every committed transaction so
// dashboards can chart both totals and deltas
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	names  NameResolver
	logger zerolog.Logger
}

// NewInfluxSink connects to an InfluxDB v2 server
func NewInfluxSink(cfg InfluxConfig, names NameResolver) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), names)
	s.client = client
	return s
}

func newInfluxSink(writer PointWriter, names NameResolver) *InfluxSink {
	return &InfluxSink{
		writer: writer,
		names:  names,
		logger: log.WithComponent("influx"),
	}
}

// Run consumes events until ctx is done or sub is closed
func (s *InfluxSink) Run(ctx context.Context, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type != events.EventReactionsCommitted {
				continue
			}
			if err := s.Write(ctx, ev); err != nil {
				InfluxWritesTotal.WithLabelValues("error").Inc()
				UpdateComponent(ComponentInflux, false, err.Error())
				s.logger.Warn().Err(err).Str("message_id", ev.MessageID).Msg("Failed to write tallies")
				continue
			}
			InfluxWritesTotal.WithLabelValues("ok").Inc()
			UpdateComponent(ComponentInflux, true, "")
		}
	}
}

// Write pushes the before and after tallies of a committed event
func (s *InfluxSink) Write(ctx context.Context, ev *events.Event) error {
	points := s.Points(ctx, ev)
	if len(points) == 0 {
		return nil
	}
	return s.writer.WritePoint(ctx, points...)
}

// Points builds the points for an event: for each touched pair, the
// target's received tally and the tally given by the source, before then
// after the change
func (s *InfluxSink) Points(ctx context.Context, ev *events.Event) []*write.Point {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var points []*write.Point
	for _, pt := range ev.Before {
		points = append(points, s.pairPoints(ctx, pt, at.Add(-beforeOffset))...)
	}
	for _, pt := range ev.After {
		points = append(points, s.pairPoints(ctx, pt, at)...)
	}
	return points
}

func (s *InfluxSink) pairPoints(ctx context.Context, pt types.PairTally, at time.Time) []*write.Point {
	source := pt.Pair.SourceID
	target := pt.Pair.TargetID
	targetName := s.names.Name(ctx, target)

	received := influxdb2.NewPointWithMeasurement(measurementReceived).
		AddTag("user_id", target).
		AddField("user_name", targetName).
		SetTime(at)
	addTally(received, pt.TargetTotal)

	pair := influxdb2.NewPointWithMeasurement(measurementPair).
		AddTag("cross_id", source+"-"+target).
		AddTag("source_id", source).
		AddTag("target_id", target).
		AddField("source_name", s.names.Name(ctx, source)).
		AddField("target_name", targetName).
		SetTime(at)
	addTally(pair, pt.FromSource)

	return []*write.Point{received, pair}
}

func addTally(p *write.Point, t types.Tally) {
	for _, c := range types.Colors {
		p.AddField(c.String(), t.Get(c))
	}
}

// Close releases the underlying client
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
