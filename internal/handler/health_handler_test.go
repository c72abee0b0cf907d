package handler

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sqlDB      func(t *testing.T) *sql.DB
		redisUp    bool
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ready with database",
			sqlDB:      func(t *testing.T) *sql.DB { return openStubDB(t, nil) },
			redisUp:    true,
			wantStatus: fiber.StatusOK,
			wantBody:   `"postgres":"ok"`,
		},
		{
			name:       "ready without database",
			sqlDB:      func(t *testing.T) *sql.DB { return nil },
			redisUp:    true,
			wantStatus: fiber.StatusOK,
			wantBody:   `"postgres":"disabled"`,
		},
		{
			name:       "database down",
			sqlDB:      func(t *testing.T) *sql.DB { return openStubDB(t, errors.New("postgres down")) },
			redisUp:    true,
			wantStatus: fiber.StatusServiceUnavailable,
			wantBody:   `"postgres":"down"`,
		},
		{
			name:       "redis down",
			sqlDB:      func(t *testing.T) *sql.DB { return nil },
			redisUp:    false,
			wantStatus: fiber.StatusServiceUnavailable,
			wantBody:   `"redis":"down"`,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			if !tc.redisUp {
				mr.Close()
			}

			app := fiber.New()
			RegisterHealthRoutes(app, tc.sqlDB(t), rdb)

			resp, _ := performRequest(t, app, http.MethodGet, "/livez", "", nil)
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("livez status = %d, want 200", resp.StatusCode)
			}

			resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", nil)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("readyz status = %d, want %d, body=%s", resp.StatusCode, tc.wantStatus, string(body))
			}
			if !strings.Contains(string(body), tc.wantBody) {
				t.Fatalf("readyz body = %s, want it to contain %s", body, tc.wantBody)
			}
		})
	}
}

func openStubDB(t *testing.T, pingErr error) *sql.DB {
	t.Helper()
	db := sql.OpenDB(stubConnector{pingErr: pingErr})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }
