package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBadEnvelope = errors.New("bad envelope")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeEnvelope reads {"type": ..., "data": {...}}. A frame without data is
// taken as a flat payload carrying its own type field.
func decodeEnvelope(id domain.ConnID, raw []byte) (app.Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return app.Inbound{}, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if env.Type == "" {
		return app.Inbound{}, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}
	payload := env.Data
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(raw)
	}
	return app.Inbound{ConnID: id, Kind: app.Kind(env.Type), Payload: payload}, nil
}

func (ctl *SignalWSController) writePump(id domain.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump closed")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, id domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		if err := ctl.Orch.Disconnect(context.WithoutCancel(ctx), id); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("disconnect not delivered")
		}
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		in, err := decodeEnvelope(id, data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json")
			continue
		}
		if err := ctl.Orch.Submit(ctx, in); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("submit failed")
			return
		}
	}
}
