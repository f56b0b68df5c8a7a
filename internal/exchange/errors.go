package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// FailureKind 将网关失败划分为三类，调用方据此决定重试策略。
type FailureKind string

const (
	// FailureRejected 表示交易所拒绝了订单参数（4xx 类），不可重试。
	FailureRejected FailureKind = "REJECTED_BY_VENUE"
	// FailureTransient 表示网络或交易所暂时性故障。
	// 重试前必须先查询确认订单未被真实创建，盲目重试可能导致重复成交。
	FailureTransient FailureKind = "TRANSIENT"
	// FailureRateLimited 表示触发限频，任何重试前必须先退避。
	FailureRateLimited FailureKind = "RATE_LIMITED"
)

var (
	// ErrOrderGone 表示交易所已不存在该订单（已成交、已撤销或从未存在）。
	// 对已了结订单的撤单会得到此错误，调用方应视为幂等成功。
	ErrOrderGone = errors.New("exchange: order no longer known to venue")
)

// GatewayError 携带失败分类的网关错误。
type GatewayError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("exchange: %s 失败 (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// KindOf 提取错误的失败分类。
func KindOf(err error) (FailureKind, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind, true
	}
	return "", false
}

// IsRateLimited 判断是否为限频错误。
func IsRateLimited(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == FailureRateLimited
}

// IsTransient 判断是否为暂时性错误。
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == FailureTransient
}

// IsRejected 判断是否为交易所拒单。
func IsRejected(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == FailureRejected
}

// classify 将底层错误包装为带分类的 GatewayError。
// 订单不存在类错误转换为 ErrOrderGone 哨兵，便于幂等撤单处理。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.OrderNotFoundErrType:
			return fmt.Errorf("%w: %s", ErrOrderGone, ccxtErr.Message)
		case ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType:
			return &GatewayError{Kind: FailureRateLimited, Op: op, Err: err}
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return &GatewayError{Kind: FailureTransient, Op: op, Err: err}
		default:
			return &GatewayError{Kind: FailureRejected, Op: op, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &GatewayError{Kind: FailureTransient, Op: op, Err: err}
	}

	return &GatewayError{Kind: FailureTransient, Op: op, Err: err}
}
