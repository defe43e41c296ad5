package probe

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamed0406/loadprobe/internal/config"
)

// DBConn is the subset of *pgx.Conn used by DBConnectProbe.
type DBConn interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ConnectFunc opens one database connection.
type ConnectFunc func(ctx context.Context, cc *pgx.ConnConfig) (DBConn, error)

// Pool is the subset of *pgxpool.Pool used by DBPoolProbe. Acquire returns
// the function that hands the connection back.
type Pool interface {
	Acquire(ctx context.Context) (release func(), err error)
	Close()
}

// NewPoolFunc creates a pool without dialing.
type NewPoolFunc func(ctx context.Context, pc *pgxpool.Config) (Pool, error)

// NewDBProbe builds the variant selected by cfg.DB.Acquire. Every call parses
// the descriptor again so no two probes share a connection config or pool.
func NewDBProbe(cfg config.Config) (Probe, error) {
	switch cfg.DB.Acquire {
	case config.AcquirePool:
		p, err := NewDBPoolProbe(cfg, nil)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.AcquireConnect, "":
		p, err := NewDBConnectProbe(cfg, nil)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, &config.Error{Option: "acquire", Err: errors.New("unknown acquire strategy " + cfg.DB.Acquire)}
	}
}

// DBConnectProbe opens a fresh connection and pings it on every attempt.
// Success requires both the connect and the ping to complete.
type DBConnectProbe struct {
	connConfig *pgx.ConnConfig
	timeout    time.Duration
	connect    ConnectFunc
}

// NewDBConnectProbe uses pgx.ConnectConfig when connect is nil.
func NewDBConnectProbe(cfg config.Config, connect ConnectFunc) (*DBConnectProbe, error) {
	cc, err := pgx.ParseConfig(cfg.DB.ConnString())
	if err != nil {
		return nil, &config.Error{Option: "database_url", Err: err}
	}
	cc.ConnectTimeout = cfg.ConnectTimeout
	if cfg.DB.Insecure {
		skipVerify(&cc.Config)
	}
	if connect == nil {
		connect = pgxConnect
	}
	return &DBConnectProbe{connConfig: cc, timeout: cfg.ConnectTimeout, connect: connect}, nil
}

func (p *DBConnectProbe) Attempt(ctx context.Context) (Result, error) {
	start := time.Now()

	cctx, cancel := withTimeout(ctx, p.timeout)
	conn, err := p.connect(cctx, p.connConfig)
	cancel()
	if err != nil {
		return Result{}, fail("db_connect", start, err)
	}
	defer func() {
		cctx, cancel := withTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		_ = conn.Close(cctx)
	}()

	pctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	if err := conn.Ping(pctx); err != nil {
		return Result{}, fail("db_ping", start, err)
	}
	return Result{Latency: time.Since(start)}, nil
}

// Close is a no-op: connections never outlive an attempt.
func (p *DBConnectProbe) Close() error { return nil }

// DBPoolProbe acquires and immediately releases a connection from a pool
// owned by this probe. The pool is created on the first attempt and holds at
// most one connection.
type DBPoolProbe struct {
	poolConfig *pgxpool.Config
	timeout    time.Duration
	newPool    NewPoolFunc
	pool       Pool
}

// NewDBPoolProbe uses pgxpool.NewWithConfig when newPool is nil.
func NewDBPoolProbe(cfg config.Config, newPool NewPoolFunc) (*DBPoolProbe, error) {
	pc, err := pgxpool.ParseConfig(cfg.DB.ConnString())
	if err != nil {
		return nil, &config.Error{Option: "database_url", Err: err}
	}
	pc.MaxConns = 1
	pc.MinConns = 0
	pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if cfg.PoolIdleTimeout > 0 {
		pc.MaxConnIdleTime = cfg.PoolIdleTimeout
	}
	if cfg.PoolMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.PoolMaxLifetime
	}
	if cfg.DB.Insecure {
		skipVerify(&pc.ConnConfig.Config)
	}
	if newPool == nil {
		newPool = pgxNewPool
	}
	return &DBPoolProbe{poolConfig: pc, timeout: cfg.ConnectTimeout, newPool: newPool}, nil
}

func (p *DBPoolProbe) Attempt(ctx context.Context) (Result, error) {
	start := time.Now()
	if p.pool == nil {
		pool, err := p.newPool(ctx, p.poolConfig)
		if err != nil {
			return Result{}, fail("db_pool", start, err)
		}
		p.pool = pool
	}

	actx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	release, err := p.pool.Acquire(actx)
	if err != nil {
		return Result{}, fail("db_acquire", start, err)
	}
	release()
	return Result{Latency: time.Since(start)}, nil
}

func (p *DBPoolProbe) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func pgxConnect(ctx context.Context, cc *pgx.ConnConfig) (DBConn, error) {
	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type pgxPool struct {
	*pgxpool.Pool
}

func (p pgxPool) Acquire(ctx context.Context) (func(), error) {
	c, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c.Release, nil
}

func pgxNewPool(ctx context.Context, pc *pgxpool.Config) (Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	return pgxPool{pool}, nil
}

// skipVerify disables certificate verification on the primary and every
// fallback TLS config. Configs without TLS (sslmode=disable) are untouched.
func skipVerify(cc *pgconn.Config) {
	tlsConfigs := []*pgconn.FallbackConfig{{TLSConfig: cc.TLSConfig}}
	tlsConfigs = append(tlsConfigs, cc.Fallbacks...)
	for _, fb := range tlsConfigs {
		if fb.TLSConfig == nil {
			continue
		}
		fb.TLSConfig.InsecureSkipVerify = true
		fb.TLSConfig.VerifyPeerCertificate = nil
		fb.TLSConfig.VerifyConnection = nil
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
