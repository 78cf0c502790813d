package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/reconcile"
	"github.com/kursadbilgin/podledger/internal/service"
	"github.com/kursadbilgin/podledger/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T, register func(app *fiber.App) error) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := register(app); err != nil {
		t.Fatalf("register routes error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubEngine struct {
	setAddressFn func(ctx context.Context, address string)
	refreshFn    func(ctx context.Context) reconcile.Snapshot
	snapshotFn   func() reconcile.Snapshot
	findFn       func(id string) (domain.Throw, bool)
}

func (s *stubEngine) SetAddress(ctx context.Context, address string) {
	if s.setAddressFn != nil {
		s.setAddressFn(ctx, address)
	}
}

func (s *stubEngine) Refresh(ctx context.Context) reconcile.Snapshot {
	if s.refreshFn != nil {
		return s.refreshFn(ctx)
	}
	return s.Snapshot()
}

func (s *stubEngine) Snapshot() reconcile.Snapshot {
	if s.snapshotFn != nil {
		return s.snapshotFn()
	}
	return reconcile.Snapshot{}
}

func (s *stubEngine) Find(id string) (domain.Throw, bool) {
	if s.findFn != nil {
		return s.findFn(id)
	}
	return domain.Throw{}, false
}

type stubMinter struct {
	mintThrowFn     func(ctx context.Context, m domain.ThrowMetadata) (service.MintResult, error)
	recordHarvestFn func(ctx context.Context, h domain.Harvest) (service.HarvestResult, error)
}

func (s *stubMinter) MintThrow(ctx context.Context, m domain.ThrowMetadata) (service.MintResult, error) {
	if s.mintThrowFn != nil {
		return s.mintThrowFn(ctx, m)
	}
	return service.MintResult{}, errors.New("not implemented")
}

func (s *stubMinter) RecordHarvest(ctx context.Context, h domain.Harvest) (service.HarvestResult, error) {
	if s.recordHarvestFn != nil {
		return s.recordHarvestFn(ctx, h)
	}
	return service.HarvestResult{}, errors.New("not implemented")
}

type stubJournal struct {
	addObservationFn    func(ctx context.Context, o *domain.Observation) (*domain.Observation, error)
	listObservationsFn  func(ctx context.Context, throwID string) ([]domain.Observation, error)
	addLocalHarvestFn   func(ctx context.Context, h *domain.LocalHarvest) (*domain.LocalHarvest, error)
	listLocalHarvestsFn func(ctx context.Context, throwID string) ([]domain.LocalHarvest, error)
}

func (s *stubJournal) AddObservation(ctx context.Context, o *domain.Observation) (*domain.Observation, error) {
	if s.addObservationFn != nil {
		return s.addObservationFn(ctx, o)
	}
	return o, nil
}

func (s *stubJournal) ListObservations(ctx context.Context, throwID string) ([]domain.Observation, error) {
	if s.listObservationsFn != nil {
		return s.listObservationsFn(ctx, throwID)
	}
	return []domain.Observation{}, nil
}

func (s *stubJournal) AddLocalHarvest(ctx context.Context, h *domain.LocalHarvest) (*domain.LocalHarvest, error) {
	if s.addLocalHarvestFn != nil {
		return s.addLocalHarvestFn(ctx, h)
	}
	return h, nil
}

func (s *stubJournal) ListLocalHarvests(ctx context.Context, throwID string) ([]domain.LocalHarvest, error) {
	if s.listLocalHarvestsFn != nil {
		return s.listLocalHarvestsFn(ctx, throwID)
	}
	return []domain.LocalHarvest{}, nil
}

type stubScheduler struct {
	listFn           func(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error)
	dueFn            func(ctx context.Context, limit int) ([]domain.Notification, error)
	unreadDueCountFn func(ctx context.Context) (int64, error)
	markReadFn       func(ctx context.Context, id string) error
	markAllReadFn    func(ctx context.Context) (int64, error)
}

func (s *stubScheduler) List(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if s.listFn != nil {
		return s.listFn(ctx, unreadOnly, limit)
	}
	return nil, nil
}

func (s *stubScheduler) Due(ctx context.Context, limit int) ([]domain.Notification, error) {
	if s.dueFn != nil {
		return s.dueFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubScheduler) UnreadDueCount(ctx context.Context) (int64, error) {
	if s.unreadDueCountFn != nil {
		return s.unreadDueCountFn(ctx)
	}
	return 0, nil
}

func (s *stubScheduler) MarkRead(ctx context.Context, id string) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, id)
	}
	return nil
}

func (s *stubScheduler) MarkAllRead(ctx context.Context) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx)
	}
	return 0, nil
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

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
