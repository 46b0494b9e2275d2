// Package retry 提供统一的重试策略，用于所有外部能力调用边界
package retry

import (
	"context"
	"errors"
	"time"
)

// Classifier 判断错误是否可重试
type Classifier func(err error) bool

// Policy 重试策略
//
// MaxAttempts 为总尝试次数（含首次）。BaseDelay 为第一次重试前的等待，
// 之后每次乘以 Factor。Classifier 为 nil 时所有错误均视为可重试。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Classifier  Classifier

	// Sleep 可替换等待实现，测试中用于跳过真实等待
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry 每次重试前回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ErrExhausted 重试次数耗尽
var ErrExhausted = errors.New("retry attempts exhausted")

// permanentError 标记不可重试错误
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装错误使其不再重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断是否被标记为不可重试
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff 计算第 n 次重试（从 1 开始）前的等待时间
func (p Policy) Backoff(n int) time.Duration {
	if n <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * factor)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do 按策略执行 fn，返回最后一次错误
//
// 不可重试错误立即返回；耗尽时返回包装了 ErrExhausted 与最后错误的 joined error。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || (p.Classifier != nil && !p.Classifier(lastErr)) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep 测试用等待实现
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
