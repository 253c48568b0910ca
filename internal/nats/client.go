// Package nats mirrors chat events onto a NATS JetStream stream so that
// other services can follow conversations without holding a websocket.
package nats

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// maxPendingPublishes bounds mirrored events awaiting a JetStream ack.
const maxPendingPublishes = 4096

// ErrDisconnected is returned by Ping while the mirror connection is down.
var ErrDisconnected = errors.New("nats: mirror disconnected")

// Config describes how the event mirror reaches NATS. TLS is used only when
// all three file paths are set.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

func (c Config) tlsEnabled() bool {
	return c.CAFile != "" && c.CertFile != "" && c.KeyFile != ""
}

// Client is the mirror's connection. Publishes are async; failures are
// counted and logged by the JetStream error handler, never returned to the
// chat path.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect dials NATS and prepares JetStream for async mirroring. The ctx
// deadline, if any, bounds the initial dial; later reconnects retry forever.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	log = log.Component("nats")

	opts, err := connectOptions(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncMaxPending(maxPendingPublishes),
		jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, msg *nats.Msg, err error) {
			metrics.EventsMirrored.WithLabelValues("failed").Inc()
			log.Warn("mirror publish failed",
				zap.String("subject", msg.Subject),
				zap.String("event", msg.Header.Get(HeaderEvent)),
				zap.Error(err))
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open JetStream: %w", err)
	}

	log.Info("event mirror connected", zap.String("url", nc.ConnectedUrl()))
	return &Client{conn: nc, js: js, logger: log}, nil
}

func connectOptions(ctx context.Context, cfg Config, log *logger.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("support-chat-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("event mirror disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("event mirror reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("event mirror connection error", zap.Error(err))
		}),
	}

	if cfg.tlsEnabled() {
		tlsConfig, err := loadTLS(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	return opts, nil
}

// JetStream returns the JetStream handle used for stream setup and publishes.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Close drops the connection. Pending async publishes are abandoned; flush
// the EventMirror first.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the mirror currently holds a server connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Ping round-trips to the server. It backs /ready.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrDisconnected
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func loadTLS(caFile, certFile, keyFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read NATS CA %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates in NATS CA %s", caFile)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load NATS client cert: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
