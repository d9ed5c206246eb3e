package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"localmoney/observability"
	"localmoney/storage/eventlog"
)

const (
	wsWriteTimeout = 10 * time.Second
	streamBuffer   = 256
)

var errStreamLagging = errors.New("rpc: event subscriber lagging")

// handleEventStream upgrades to a websocket and streams journal records
// matching the tradeId, type and afterSeq query parameters: the backlog
// first, then records as they are appended.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		http.Error(w, "event journal not configured", http.StatusServiceUnavailable)
		return
	}
	source := clientSource(r)
	if !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle(moduleName, "rate")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	query, err := parseStreamQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			header = "Bearer " + token
		}
	}
	caller, err := s.auth.authenticate(header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if !caller.Operator && !caller.HasAddress() {
		http.Error(w, "token subject is not an account address", http.StatusUnauthorized)
		return
	}
	if rpcErr := s.eventsVisible(caller, query.TradeID); rpcErr != nil {
		http.Error(w, rpcErr.Message, statusFor(rpcErr.Code))
		return
	}

	// Subscribe before reading the backlog so nothing appended in between is
	// missed; duplicates are skipped by sequence.
	updates, cancel := s.deps.Events.Subscribe(eventlog.Query{Type: query.Type, TradeID: query.TradeID}, streamBuffer)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	defer observability.ModuleMetrics().StreamOpened()()

	ctx := conn.CloseRead(r.Context())
	err = s.streamEvents(ctx, conn, query, updates)
	switch {
	case errors.Is(err, errStreamLagging):
		_ = conn.Close(websocket.StatusTryAgainLater, "subscriber lagging, resume from last seq")
	case err != nil && ctx.Err() == nil && websocket.CloseStatus(err) == -1:
		s.logger.Debug("event stream failed", slog.String("source", source), slog.Any("error", err))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, q eventlog.Query, updates <-chan eventlog.Record) error {
	last := q.AfterSeq
	for {
		page, err := s.deps.Events.List(ctx, eventlog.Query{
			Type:     q.Type,
			TradeID:  q.TradeID,
			AfterSeq: last,
			Limit:    eventlog.MaxLimit,
		})
		if err != nil {
			return err
		}
		for _, record := range page {
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			last = record.Seq
		}
		if len(page) < eventlog.MaxLimit {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return errStreamLagging
			}
			if record.Seq <= last {
				continue
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			last = record.Seq
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record eventlog.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseStreamQuery(values url.Values) (eventlog.Query, error) {
	q := eventlog.Query{Type: strings.TrimSpace(values.Get("type"))}
	if raw := strings.TrimSpace(values.Get("tradeId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid tradeId %q", raw)
		}
		q.TradeID = id
	}
	if raw := strings.TrimSpace(values.Get("afterSeq")); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			return q, fmt.Errorf("invalid afterSeq %q", raw)
		}
		q.AfterSeq = seq
	}
	return q, nil
}
