// Package api serves the stock backend: REST snapshots, the WebSocket push
// feed and the gRPC push feed.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yitech/stockview/adapter/grpcfeed"
	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/candle"
	"github.com/yitech/stockview/model/message"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Source is the market the API serves. *market.Market satisfies it.
type Source interface {
	Known(code string) bool
	Daily(code, endDate string) (*candle.Series, error)
	Intraday(code, endDate string) (*candle.Series, error)
	// Realtime is the current session of code.
	Realtime(code string) (*candle.Series, error)
	// Subscribe signals every move of code until cancel is called.
	Subscribe(code string) (notify <-chan struct{}, cancel func())
}

var _ grpcfeed.FeedServer = (*Server)(nil)

type Server struct {
	src      Source
	log      *zap.Logger
	upgrader websocket.Upgrader

	// ctx ends every running feed on Close.
	ctx  context.Context
	stop context.CancelFunc
}

func New(src Source, log *zap.Logger) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		src: src,
		log: logger.OrNop(log).Named("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The viewer may be served from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:  ctx,
		stop: stop,
	}
}

// Handler routes:
//
//	GET /api/stock/{code}/daily?end_date=YYYY-MM-DD
//	GET /api/stock/{code}/min5?end_date=YYYY-MM-DD
//	GET /ws/{code}
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stock/{code}/daily", s.handleDaily)
	mux.HandleFunc("GET /api/stock/{code}/min5", s.handleIntraday)
	mux.HandleFunc("GET /ws/{code}", s.handleWS)
	return s.logRequests(mux)
}

// Close ends every running push feed. Feeds started afterwards end at once.
func (s *Server) Close() {
	s.stop()
}

// ── REST ─────────────────────────────────────────────────────────────────────

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	series, err := s.src.Daily(code, r.URL.Query().Get("end_date"))
	s.writeSeries(w, code, series, err)
}

func (s *Server) handleIntraday(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	series, err := s.src.Intraday(code, r.URL.Query().Get("end_date"))
	s.writeSeries(w, code, series, err)
}

// writeSeries answers with the series body, or with {"error": ...} and a 200
// status when the query could not be served.
func (s *Server) writeSeries(w http.ResponseWriter, code string, series *candle.Series, err error) {
	var body any
	if err != nil {
		s.log.Warn("query failed", zap.String("symbol", code), zap.Error(err))
		body = message.ErrorBody{Error: err.Error()}
	} else {
		body = series.Raw()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("write response", zap.String("symbol", code), zap.Error(err))
	}
}

// ── push ─────────────────────────────────────────────────────────────────────

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade", zap.String("symbol", code), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := s.feedContext(r.Context())
	defer cancel()

	// The client sends nothing; reading only notices it going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.With(zap.String("symbol", code), zap.String("remote", r.RemoteAddr))
	log.Info("ws subscriber connected")

	closeCode, reason := websocket.CloseNormalClosure, ""
	if !s.src.Known(code) {
		frame, _ := errorFrame(message.Initial, code, "unknown stock code "+code)
		s.writeFrame(conn, frame)
		closeCode, reason = websocket.ClosePolicyViolation, "unknown stock code"
	} else if err := s.feed(ctx, code, func(frame []byte) error { return s.writeFrame(conn, frame) }); err != nil {
		log.Debug("ws feed ended", zap.Error(err))
		closeCode = websocket.CloseInternalServerErr
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, reason), time.Now().Add(closeWait))
	log.Info("ws subscriber gone")
}

func (s *Server) writeFrame(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Subscribe serves the gRPC push feed.
func (s *Server) Subscribe(code string, out grpcfeed.FrameSender) error {
	if !s.src.Known(code) {
		return status.Errorf(codes.NotFound, "unknown stock code %q", code)
	}
	ctx, cancel := s.feedContext(out.Context())
	defer cancel()

	log := s.log.With(zap.String("symbol", code))
	log.Info("grpc subscriber connected")
	defer log.Info("grpc subscriber gone")

	if err := s.feed(ctx, code, out.Send); err != nil {
		return status.Errorf(codes.Unavailable, "feed: %v", err)
	}
	return nil
}

// feed sends one initial frame, then an update frame every time code moves,
// until ctx ends. A session that cannot be read is sent as an error payload
// and the feed carries on.
func (s *Server) feed(ctx context.Context, code string, send func([]byte) error) error {
	notify, unsubscribe := s.src.Subscribe(code)
	defer unsubscribe()

	kind := message.Initial
	for {
		frame, err := s.frame(kind, code)
		if err != nil {
			return err
		}
		if err := send(frame); err != nil {
			return err
		}
		kind = message.Update

		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		}
	}
}

func (s *Server) frame(kind message.Kind, code string) ([]byte, error) {
	series, err := s.src.Realtime(code)
	if err != nil {
		s.log.Warn("realtime session", zap.String("symbol", code), zap.Stringer("kind", kind), zap.Error(err))
		return errorFrame(kind, code, err.Error())
	}
	return message.Encode(kind, series)
}

func errorFrame(kind message.Kind, code, msg string) ([]byte, error) {
	return json.Marshal(message.Envelope{
		Type: kind.String(),
		Data: candle.RawSeries{StockCode: code, Error: msg},
	})
}

// feedContext ends when parent ends or the server closes.
func (s *Server) feedContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// ── middleware ───────────────────────────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
