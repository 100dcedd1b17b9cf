package ledger

import (
	"context"
	"fmt"
	"time"
)

// Day 表示 UTC 日历中的一天，是支出账本的记账单位。
// 使用结构化字段而不是格式化字符串，避免时区与本地化歧义。
type Day struct {
	Year  int
	Month time.Month
	Date  int
}

// DayOf 返回时间戳对应的 UTC 日历日。
func DayOf(t time.Time) Day {
	t = t.UTC()
	return Day{Year: t.Year(), Month: t.Month(), Date: t.Day()}
}

// Today 返回当前的 UTC 日历日。
func Today() Day {
	return DayOf(time.Now())
}

// String 以 yyyy-mm-dd 形式输出，仅用于日志与外部存储的键名。
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Date)
}

// Ledger 抽象了按（委托人, UTC 日）累计已执行支出的账本。
// Add 必须对同一键的并发调用保持原子，防止丢失更新。
type Ledger interface {
	// Spent 返回指定委托人在指定日期已执行的支出总额，无记录时返回 0。
	Spent(ctx context.Context, principalID string, day Day) (int64, error)
	// Add 将支出累加到指定键，键不存在时自动创建。
	Add(ctx context.Context, principalID string, day Day, amountSats int64) error
	Close() error
}
