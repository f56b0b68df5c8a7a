package position

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type accountClient interface {
	FetchBalance(ctx context.Context) (ccxt.Balances, error)
	FetchPositions(ctx context.Context) ([]ccxt.Position, error)
}

// AccountBalance 描述 USDⓈ-M 合约账户的资金状况。
type AccountBalance struct {
	TotalUSD   float64
	FreeUSD    float64
	UsedUSD    float64
	Unrealized float64
	Timestamp  time.Time
}

// PositionDetail 表示单个方向的仓位详情。
type PositionDetail struct {
	Symbol        string
	Side          string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	LiqPrice      float64
	Notional      float64
	UnrealizedPnl float64
	Leverage      float64
	MarginMode    string
	Timestamp     time.Time
}

// Manager 按需拉取账户资金与持仓快照。
type Manager struct {
	client accountClient
	logger *zap.Logger
}

// NewManager 创建仓位管理器。
func NewManager(client accountClient, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		logger: logger,
	}
}

// FetchSnapshot 并发获取账户余额与当前持仓。
// symbol 非空时只返回该标的的仓位。
func (m *Manager) FetchSnapshot(ctx context.Context, symbol string) (AccountBalance, []PositionDetail, error) {
	var (
		rawBalances  ccxt.Balances
		rawPositions []ccxt.Position
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balances, err := m.client.FetchBalance(gctx)
		if err != nil {
			return fmt.Errorf("position: 获取账户余额失败: %w", err)
		}
		rawBalances = balances
		return nil
	})
	g.Go(func() error {
		positions, err := m.client.FetchPositions(gctx)
		if err != nil {
			return fmt.Errorf("position: 获取持仓失败: %w", err)
		}
		rawPositions = positions
		return nil
	})
	if err := g.Wait(); err != nil {
		return AccountBalance{}, nil, err
	}

	now := time.Now().UTC()
	balance := parseBalance(rawBalances, now)
	positions := parsePositions(rawPositions, symbol, now)

	for _, pos := range positions {
		balance.Unrealized += pos.UnrealizedPnl
	}

	m.logger.Debug("账户快照已刷新",
		zap.Float64("total_usd", balance.TotalUSD),
		zap.Float64("free_usd", balance.FreeUSD),
		zap.Int("positions", len(positions)),
	)

	return balance, positions, nil
}

func parseBalance(balances ccxt.Balances, now time.Time) AccountBalance {
	balance := AccountBalance{Timestamp: now}

	for _, code := range []string{"USDT", "USDC", "BUSD"} {
		if balances.Total != nil {
			if total, ok := balances.Total[code]; ok && total != nil && balance.TotalUSD == 0 {
				balance.TotalUSD = *total
			}
		}
		if balances.Free != nil {
			if free, ok := balances.Free[code]; ok && free != nil && balance.FreeUSD == 0 {
				balance.FreeUSD = *free
			}
		}
		if balances.Used != nil {
			if used, ok := balances.Used[code]; ok && used != nil && balance.UsedUSD == 0 {
				balance.UsedUSD = *used
			}
		}
	}

	if balances.Info != nil {
		if v := parseNumeric(balances.Info["totalWalletBalance"]); v > 0 && balance.TotalUSD == 0 {
			balance.TotalUSD = v
		}
		if v := parseNumeric(balances.Info["availableBalance"]); v > 0 && balance.FreeUSD == 0 {
			balance.FreeUSD = v
		}
	}

	return balance
}

func parsePositions(rawPositions []ccxt.Position, symbol string, now time.Time) []PositionDetail {
	positions := make([]PositionDetail, 0, len(rawPositions))
	want := strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
	want = strings.Split(want, ":")[0]

	for _, rawPos := range rawPositions {
		posSymbol := derefString(rawPos.Symbol)
		if posSymbol == "" {
			continue
		}
		normalized := strings.Split(strings.ReplaceAll(strings.ToUpper(posSymbol), "/", ""), ":")[0]
		if want != "" && normalized != want {
			continue
		}

		size := derefFloat(rawPos.Contracts)
		if size == 0 {
			continue
		}

		side := strings.ToUpper(strings.TrimSpace(derefString(rawPos.Side)))
		if side == "" {
			side = "LONG"
		}

		positions = append(positions, PositionDetail{
			Symbol:        normalized,
			Side:          side,
			Size:          size,
			EntryPrice:    derefFloat(rawPos.EntryPrice),
			MarkPrice:     derefFloat(rawPos.MarkPrice),
			LiqPrice:      derefFloat(rawPos.LiquidationPrice),
			Notional:      derefFloat(rawPos.Notional),
			UnrealizedPnl: derefFloat(rawPos.UnrealizedPnl),
			Leverage:      derefFloat(rawPos.Leverage),
			MarginMode:    strings.ToUpper(strings.TrimSpace(derefString(rawPos.MarginMode))),
			Timestamp:     now,
		})
	}

	return positions
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func derefFloat(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
