package jobworkerdb

import (
	"context"
	"sync"

	"github.com/domonda/go-errs"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"
	"github.com/jackc/pgx/v5"
)

var log = rootlog.NewPackageLogger()

// DefaultApplicationName is reported to the server
// as application_name of every connection.
const DefaultApplicationName = "layersync"

// Connection owns at most one live database connection
// that can be probed and restored.
//
// A Connection is not safe for concurrent use,
// every worker owns its own Connection.
type Connection struct {
	connectURL      string
	applicationName string
	log             *golog.Logger

	mtx        sync.Mutex
	conn       *pgx.Conn
	loggedDown bool
}

// NewConnection returns an unconnected Connection for connectURL
// which can be a postgres:// URL or a keyword/value connection string.
// Call Reconnect to establish the connection.
func NewConnection(connectURL string, logger *golog.Logger) *Connection {
	if logger == nil {
		logger = log
	}
	return &Connection{
		connectURL:      connectURL,
		applicationName: DefaultApplicationName,
		log:             logger,
	}
}

// Reconnect probes the connection and returns true if it is usable.
//
// A missing or broken connection is only (re)established
// if restore is true, else false is returned.
// Connection failures are logged and never returned as error,
// callers are expected to poll.
func (c *Connection) Reconnect(ctx context.Context, restore bool) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.conn != nil {
		if !c.conn.IsClosed() && c.conn.Ping(ctx) == nil {
			return true
		}
		if !c.loggedDown {
			c.log.Warn("Database connection is broken").Log()
			c.loggedDown = true
		}
		if !restore {
			return false
		}
		_ = c.conn.Close(ctx)
		c.conn = nil
	}
	if !restore {
		return false
	}

	conn, err := c.connect(ctx)
	if err != nil {
		if !c.loggedDown {
			c.log.Warn("Can't connect to database").Err(err).Log()
			c.loggedDown = true
		}
		return false
	}
	if c.loggedDown {
		c.log.Info("Database connection restored").Log()
	}
	c.conn = conn
	c.loggedDown = false
	return true
}

func (c *Connection) connect(ctx context.Context) (conn *pgx.Conn, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	config, err := pgx.ParseConfig(c.connectURL)
	if err != nil {
		return nil, err
	}
	config.RuntimeParams["application_name"] = c.applicationName
	config.RuntimeParams["client_encoding"] = "UTF8"
	return pgx.ConnectConfig(ctx, config)
}

// IsConnected returns true if a connection has been established
// and not been closed. It does not probe the connection.
func (c *Connection) IsConnected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the connection if there is one.
// The Connection can be reconnected afterwards.
func (c *Connection) Close(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	return err
}

// Begin starts a transaction.
// The returned Transaction must be closed with Transaction.Close.
func (c *Connection) Begin(ctx context.Context) (tx *Transaction, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	c.mtx.Lock()
	conn := c.conn
	c.mtx.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}
	pgxTx, err := conn.Begin(ctx)
	if err != nil {
		return nil, queryError(err)
	}
	return &Transaction{
		conn: conn,
		tx:   pgxTx,
		log:  c.log,
	}, nil
}
