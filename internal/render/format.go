package render

import (
	"fmt"
	"math"
	"time"

	"labReport/internal/layout"
)

var monthNames = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// FormatDate 按印尼语习惯格式化日期，例如 "5 Maret 2024"。
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), monthNames[t.Month()-1], t.Year())
}

func toNumber(v any) (float64, bool) {
	f, ok := layout.ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
