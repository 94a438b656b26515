package render

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"labReport/internal/reportdata"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

type tokenFunc func(ctx Context) (string, bool)

// 占位符词表。未列出的 token 原样保留。
var vocabulary = map[string]tokenFunc{
	"nama_proyek":   projectText(func(p reportdata.Project) string { return p.Name }),
	"nama_klien":    projectText(func(p reportdata.Project) string { return p.ClientName }),
	"lokasi_proyek": projectText(func(p reportdata.Project) string { return p.Location }),
	"nomor_proyek":  projectText(func(p reportdata.Project) string { return p.Number }),
	"tanggal_laporan": func(ctx Context) (string, bool) {
		date := ctx.Now
		if ctx.Report != nil && !ctx.Report.Project.ReportDate.IsZero() {
			date = ctx.Report.Project.ReportDate
		}
		if date.IsZero() {
			return "", false
		}
		return FormatDate(date), true
	},
	"jumlah_trial": func(ctx Context) (string, bool) {
		if ctx.Report == nil {
			return "", false
		}
		return strconv.Itoa(len(ctx.Report.Trials)), true
	},
	"nama_trial": func(ctx Context) (string, bool) {
		t := ctx.CurrentTrial()
		if t == nil || t.Name == "" {
			return "", false
		}
		return t.Name, true
	},
	"fc_rencana":    measured((*reportdata.Trial).Input, reportdata.FieldDesignStrength),
	"slump_rencana": measured((*reportdata.Trial).Input, reportdata.FieldSlump),
	"fcr":           measured((*reportdata.Trial).Result, reportdata.FieldTargetStrength),
	"wc_ratio":      measured((*reportdata.Trial).Result, reportdata.FieldWCRatio),
	"kadar_semen":   measured((*reportdata.Trial).Result, reportdata.FieldCementContent),
	"kadar_air":     measured((*reportdata.Trial).Result, reportdata.FieldWaterContent),
	"kuat_tekan_rata": func(ctx Context) (string, bool) {
		avg, ok := ctx.CurrentTrial().AverageStrength()
		if !ok {
			return "", false
		}
		return FormatNumber(avg, ctx.Decimals), true
	},
	"halaman": func(ctx Context) (string, bool) {
		if ctx.PageNumber <= 0 {
			return "", false
		}
		return strconv.Itoa(ctx.PageNumber), true
	},
	"total_halaman": func(ctx Context) (string, bool) {
		if ctx.TotalPages <= 0 {
			return "", false
		}
		return strconv.Itoa(ctx.TotalPages), true
	},
}

func projectText(get func(reportdata.Project) string) tokenFunc {
	return func(ctx Context) (string, bool) {
		if ctx.Report == nil {
			return "", false
		}
		v := get(ctx.Report.Project)
		return v, v != ""
	}
}

func measured(get func(*reportdata.Trial, string) (any, bool), field string) tokenFunc {
	return func(ctx Context) (string, bool) {
		t := ctx.CurrentTrial()
		if t == nil {
			return "", false
		}
		v, ok := get(t, field)
		if !ok || v == nil {
			return "", false
		}
		if f, ok := toNumber(v); ok {
			return FormatNumber(f, ctx.Decimals), true
		}
		s, ok := v.(string)
		return s, ok && s != ""
	}
}

// Tokens 返回按字母排序的占位符词表。
func Tokens() []string {
	out := make([]string, 0, len(vocabulary))
	for k := range vocabulary {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup 解析单个 token；不在词表中或值缺失时返回 false。
func Lookup(token string, ctx Context) (string, bool) {
	fn, ok := vocabulary[token]
	if !ok {
		return "", false
	}
	return fn(ctx)
}

// Resolve 替换文本中全部已知的 {{token}}；未知或缺失值的 token 原样保留。
func Resolve(text string, ctx Context) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := tokenPattern.FindStringSubmatch(match)
		if v, ok := Lookup(sub[1], ctx); ok {
			return v
		}
		if ctx.Strict {
			ctx.Warn(WarnMissingData, "placeholder %q has no value", sub[1])
		}
		return match
	})
}

// FormatNumber 以固定小数位格式化测量值。
func FormatNumber(f float64, decimals int) string {
	if decimals < 0 {
		decimals = DefaultDecimals
	}
	return strconv.FormatFloat(f, 'f', decimals, 64)
}
