package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

// mqNotifier 通知通道：余额告警/冻结事件发往 RocketMQ，由下游的
// 通知服务消费。发送失败只记日志，不阻断结算。
type mqNotifier struct {
	p     rocketmq.Producer
	topic string
	log   *log.Helper
}

// NewNotifier 创建通知通道。MQ 未启用时返回仅记日志的空实现。
func NewNotifier(c *conf.Bootstrap, logger log.Logger) (biz.Notifier, func(), error) {
	helper := log.NewHelper(logger)
	mq := c.Data.Rocketmq
	if mq == nil || !mq.Enabled {
		helper.Info("rocketmq disabled, notifications are log-only")
		return &logNotifier{log: helper}, func() {}, nil
	}

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		producer.WithGroupName(mq.GroupName),
		producer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start rocketmq producer: %w", err)
	}

	cleanup := func() {
		if err := p.Shutdown(); err != nil {
			helper.Errorf("failed to shutdown rocketmq producer: %v", err)
		}
	}
	return &mqNotifier{p: p, topic: mq.Topic, log: helper}, cleanup, nil
}

// Notify 发送通知事件
func (n *mqNotifier) Notify(ctx context.Context, eventType string, payload map[string]interface{}) error {
	body := map[string]interface{}{
		"event_type": eventType,
		"timestamp":  time.Now().Unix(),
		"payload":    payload,
	}
	msgBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := primitive.NewMessage(n.topic, msgBytes)
	msg.WithTag(eventType)

	if _, err := n.p.SendSync(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// logNotifier MQ 未启用时的空实现
type logNotifier struct {
	log *log.Helper
}

func (n *logNotifier) Notify(ctx context.Context, eventType string, payload map[string]interface{}) error {
	n.log.Infof("notify %s: %v", eventType, payload)
	return nil
}
