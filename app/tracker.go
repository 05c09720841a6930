package app

import (
	"context"
	"fmt"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/ledger"
	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/persist"
	"Gin_postgres_redis_rent_tracker/realtime"
	"Gin_postgres_redis_rent_tracker/session"
	"Gin_postgres_redis_rent_tracker/store"
	"Gin_postgres_redis_rent_tracker/upload"
)

// Tracker 设备域的全部运行时依赖
type Tracker struct {
	Store   *store.Store
	Ledger  *ledger.Ledger
	Engine  *lifecycle.Engine
	Bus     EventBus.Bus
	Hub     *realtime.Hub
	Uploads *upload.Service
	Locks   session.Locker

	saver *persist.Saver
}

type TrackerOptions struct {
	Persistence   persist.Persistence // nil → 纯内存
	SaveWorkers   int
	NodeID        int64
	UseSerials    bool
	Mirror        ledger.Mirror
	Locks         session.Locker
	UploadDir     string
	UploadURLBase string
}

// NewTracker 加载设备集合、预热流水并启动实时推送；ctx 结束时 hub 退出
func NewTracker(ctx context.Context, opt TrackerOptions) (*Tracker, error) {
	saver, err := persist.NewSaver(opt.SaveWorkers, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("saver: %w", err)
	}
	bus := EventBus.New()
	saver.OnError(func(se *persist.StorageError) {
		bus.Publish(realtime.TopicStorageFailure, se)
	})

	var storeOpts []store.Option
	var ledgerOpts []ledger.Option
	if opt.Persistence != nil {
		storeOpts = append(storeOpts, store.WithPersistence(opt.Persistence, saver))
		ledgerOpts = append(ledgerOpts, ledger.WithPersistence(opt.Persistence, saver))
	}
	if opt.UseSerials {
		storeOpts = append(storeOpts, store.WithSerials(store.NewSerialGenerator()))
	}
	if opt.Mirror != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(opt.Mirror))
	}

	st := store.New(storeOpts...)
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := st.Load(loadCtx); err != nil {
		saver.Close()
		return nil, fmt.Errorf("load equipment: %w", err)
	}

	lg, err := ledger.New(opt.NodeID, ledgerOpts...)
	if err != nil {
		saver.Close()
		return nil, err
	}
	if err := lg.Warm(loadCtx); err != nil {
		// 流水预热失败不影响设备操作
		zap.L().Warn("ledger warm-up failed", zap.Error(err))
	}

	locks := opt.Locks
	if locks == nil {
		locks = session.NewLocalLock()
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)
	if err := realtime.NewBroadcaster(hub, st).Attach(bus); err != nil {
		saver.Close()
		return nil, fmt.Errorf("subscribe realtime: %w", err)
	}

	zap.L().Info("equipment loaded", zap.Int("count", st.Len()), zap.Int("ledger", lg.Len()))
	return &Tracker{
		Store:   st,
		Ledger:  lg,
		Engine:  lifecycle.NewEngine(st, lg, lifecycle.WithPublisher(bus)),
		Bus:     bus,
		Hub:     hub,
		Uploads: upload.NewService(opt.UploadDir, opt.UploadURLBase),
		Locks:   locks,
		saver:   saver,
	}, nil
}

// Flush 等待所有后台写入完成
func (t *Tracker) Flush() { t.saver.Flush() }

func (t *Tracker) Close() {
	t.Bus.WaitAsync()
	t.saver.Close()
}
