package amber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"AmberPull/internal/domain/models"
	drepo "AmberPull/internal/domain/repository"
	"AmberPull/pkg/logger"

	"github.com/gorilla/websocket"
)

const DefaultStreamURL = "wss://api-ws.amber.com.au"

// ErrStreamForbidden means the account has no push access; the stream
// stops for good and polling carries on alone.
var ErrStreamForbidden = errors.New("amber stream: forbidden")

type StreamConfig struct {
	URL               string
	Token             string
	SiteID            string
	PricingMode       string
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
	Heartbeat         time.Duration
	StaleTimeout      time.Duration
}

// Stream implements PriceStream over the live-prices WebSocket service.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	log    *logger.Logger
	now    func() time.Time

	conn      *websocket.Conn
	connected atomic.Bool
}

var _ drepo.PriceStream = (*Stream)(nil)

// NewStream fills zero config values with the upstream defaults.
func NewStream(cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.PricingMode == "" {
		cfg.PricingMode = models.PricingModeApp
	}
	if cfg.MinReconnectDelay <= 0 {
		cfg.MinReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.MinReconnectDelay {
		cfg.MaxReconnectDelay = max(60*time.Second, cfg.MinReconnectDelay)
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 6 * time.Minute
	}
	return &Stream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    logger.OrNop(log).With("amber_stream"),
		now:    time.Now,
	}
}

// Run connects, subscribes and delivers price updates, reconnecting with
// exponential delay until ctx is done or the server refuses access.
func (s *Stream) Run(ctx context.Context, onUpdate func(models.PriceSnapshot)) error {
	delay := s.cfg.MinReconnectDelay
	for {
		err := s.Connect(ctx)
		if err == nil {
			delay = s.cfg.MinReconnectDelay
			err = s.Subscribe()
			if err == nil {
				err = s.listen(ctx, onUpdate)
			}
			_ = s.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrStreamForbidden) {
			s.log.Warn("websocket access denied, continuing with polling only")
			return err
		}
		s.log.Warn("websocket connection lost, reconnecting",
			logger.Error(err),
			logger.Duration("delay_ms", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(2*delay, s.cfg.MaxReconnectDelay)
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("authorization", "Bearer "+s.cfg.Token)
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return ErrStreamForbidden
		}
		return fmt.Errorf("amber stream connect: %w", err)
	}
	s.conn = conn
	s.connected.Store(true)
	s.log.Info("connected to websocket")
	return nil
}

type subscribeMessage struct {
	Service string        `json:"service"`
	Action  string        `json:"action"`
	Data    subscribeData `json:"data"`
}

type subscribeData struct {
	SiteID string `json:"siteId"`
}

// Subscribe requests live prices for the configured site.
func (s *Stream) Subscribe() error {
	if s.conn == nil || !s.connected.Load() {
		return fmt.Errorf("amber stream not connected")
	}
	msg := subscribeMessage{Service: "live-prices", Action: "subscribe", Data: subscribeData{SiteID: s.cfg.SiteID}}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.SiteID, err)
	}
	s.log.Debug("subscribed", logger.String("site_id", s.cfg.SiteID))
	return nil
}

func (s *Stream) listen(ctx context.Context, onUpdate func(models.PriceSnapshot)) error {
	conn := s.conn
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, s.now().Add(10*time.Second))
			}
		}
	}()

	// A read deadline at the stale timeout forces a reconnect when updates stop.
	_ = conn.SetReadDeadline(s.now().Add(s.cfg.StaleTimeout))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("amber stream read: %w", err)
		}
		snap, ok := s.handleMessage(b)
		if !ok {
			continue
		}
		_ = conn.SetReadDeadline(s.now().Add(s.cfg.StaleTimeout))
		onUpdate(snap)
	}
}

type streamMessage struct {
	Service string          `json:"service"`
	Action  string          `json:"action"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
}

type priceUpdate struct {
	Prices []Interval `json:"prices"`
}

// handleMessage parses one frame into a snapshot of current prices.
func (s *Stream) handleMessage(b []byte) (models.PriceSnapshot, bool) {
	var m streamMessage
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("invalid websocket frame", logger.Error(err))
		return models.PriceSnapshot{}, false
	}
	if m.Action == "subscribe" {
		if m.Status == http.StatusOK {
			s.log.Info("websocket subscription confirmed")
		} else {
			s.log.Warn("websocket subscription failed", logger.Int("status", m.Status))
		}
		return models.PriceSnapshot{}, false
	}
	if m.Service != "live-prices" || m.Action != "price-update" {
		return models.PriceSnapshot{}, false
	}

	var pu priceUpdate
	if err := json.Unmarshal(m.Data, &pu); err != nil || len(pu.Prices) == 0 {
		return models.PriceSnapshot{}, false
	}
	current := make(map[string]models.ChannelPrice, len(pu.Prices))
	for _, iv := range pu.Prices {
		if ch := iv.Channel(); ch != "" {
			current[ch] = iv.ToChannelPrice(s.cfg.PricingMode)
		}
	}
	if len(current) == 0 {
		return models.PriceSnapshot{}, false
	}
	return models.PriceSnapshot{Current: current, FetchedAt: s.now()}, true
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.connected.Store(false)
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool { return s.connected.Load() }
