package server

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// EngineServer 计费引擎
// 轮询认领 READY 状态的 action 交给 worker 执行，并周期上报心跳。
// 心跳停止超过 2 倍周期的引擎会被其他引擎判死并抢走其用户锁。
type EngineServer struct {
	actionUC   *biz.ActionUseCase
	engineRepo biz.EngineRepo
	log        *log.Helper

	id           string
	workers      int
	pollInterval time.Duration
	heartbeat    time.Duration

	sem    chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngineServer 创建计费引擎
func NewEngineServer(
	c *conf.Bootstrap,
	actionUC *biz.ActionUseCase,
	engineRepo biz.EngineRepo,
	logger log.Logger,
) *EngineServer {
	workers := 4
	pollInterval := 5 * time.Second
	heartbeat := 60 * time.Second
	if c.Server != nil && c.Server.Engine != nil {
		e := c.Server.Engine
		if e.Workers > 0 {
			workers = e.Workers
		}
		if e.PollIntervalSeconds > 0 {
			pollInterval = time.Duration(e.PollIntervalSeconds) * time.Second
		}
		if e.PeriodicIntervalSeconds > 0 {
			heartbeat = time.Duration(e.PeriodicIntervalSeconds) * time.Second
		}
	}

	hostname, _ := os.Hostname()
	return &EngineServer{
		actionUC:     actionUC,
		engineRepo:   engineRepo,
		log:          log.NewHelper(logger),
		id:           fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		workers:      workers,
		pollInterval: pollInterval,
		heartbeat:    heartbeat,
		sem:          make(chan struct{}, workers),
	}
}

// ID 引擎标识
func (s *EngineServer) ID() string {
	return s.id
}

// Start 启动引擎
func (s *EngineServer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 先上报一次，保证认领 action 前注册表里已有本引擎
	if err := s.engineRepo.ReportAlive(runCtx, s.id); err != nil {
		return fmt.Errorf("failed to register engine: %w", err)
	}
	s.log.Infof("Engine %s started with %d workers", s.id, s.workers)

	s.wg.Add(2)
	go s.heartbeatLoop(runCtx)
	go s.pollLoop(runCtx)
	return nil
}

// Stop 停止引擎，等待在途 action 执行完成
func (s *EngineServer) Stop(ctx context.Context) error {
	s.log.Infof("Stopping engine %s", s.id)
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EngineServer) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.engineRepo.ReportAlive(ctx, s.id); err != nil {
				s.log.Errorf("Heartbeat failed: %v", err)
			}
		}
	}
}

func (s *EngineServer) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.claim(ctx)
		}
	}
}

func (s *EngineServer) claim(ctx context.Context) {
	free := s.workers - len(s.sem)
	if free <= 0 {
		return
	}
	actions, err := s.actionUC.ClaimReady(ctx, s.id, free)
	if err != nil {
		s.log.Errorf("Failed to claim actions: %v", err)
		return
	}
	for _, action := range actions {
		s.sem <- struct{}{}
		s.wg.Add(1)
		go func(a *biz.Action) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.log.Infof("Engine %s processing action %s (%s) for user %s",
				s.id, a.ID, a.Name, a.Target)
			s.actionUC.Process(ctx, a)
		}(action)
	}
}
