package canvas

import "html/template"

const documentSource = `<!DOCTYPE html>
<html lang="id">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.PageCSS}}{{.BaseCSS}}</style>
</head>
<body class="{{if .Editable}}canvas-editable{{else}}canvas-preview{{end}}">
{{range .Pages}}<section class="page {{.Class}}"{{if $.Editable}} data-page-index="{{.Index}}"{{end}}>
{{if $.Editable}}<div class="slot slot-header" data-droppable-id="{{.HeaderAddress}}">{{.Header}}</div>
<div class="page-body" data-droppable-id="{{.BodyAddress}}">{{.Body}}</div>
<div class="slot slot-footer" data-droppable-id="{{.FooterAddress}}">{{.Footer}}</div>
{{else}}{{with .Header}}<div class="slot slot-header">{{.}}</div>{{end}}
<div class="page-body">{{.Body}}</div>
{{with .Footer}}<div class="slot slot-footer">{{.}}</div>{{end}}
{{end}}</section>
{{end}}</body>
</html>`

const nodeSource = `
{{define "node"}}<div class="node node-{{.Kind}}{{if .Selected}} is-selected{{end}}"{{if .Editable}} data-instance-id="{{.ID}}"{{end}}{{with .Style}} style="{{.}}"{{end}}>{{if .Editable}}<button type="button" class="node-delete" data-delete-id="{{.ID}}" title="Hapus">&times;</button>{{end}}{{.Inner}}</div>{{end}}

{{define "list"}}<div class="drop-list"{{with .Address}} data-droppable-id="{{.}}"{{end}}>{{range .Items}}{{.}}{{end}}</div>{{end}}

{{define "header"}}<div class="header-title">{{.Title}}</div>{{with .Text}}<div class="header-subtitle">{{.}}</div>{{end}}{{template "list" .Children}}{{end}}

{{define "footer"}}{{with .Text}}<div class="footer-text">{{.}}</div>{{end}}{{template "list" .Children}}{{end}}

{{define "section"}}{{with .Title}}<h3 class="section-title">{{.}}</h3>{{end}}{{template "list" .Children}}{{end}}

{{define "columns"}}<div class="columns" style="{{.GridStyle}}">{{range .Columns}}{{template "list" .}}{{end}}</div>{{end}}

{{define "trial-loop"}}{{range .Passes}}<div class="loop-pass"{{with .TrialID}} data-trial-id="{{.}}"{{end}}>{{with .Title}}<h4 class="loop-title">{{.}}</h4>{{end}}{{template "list" .Children}}</div>{{end}}{{end}}

{{define "custom-text"}}<div class="text">{{.Text}}</div>{{end}}

{{define "placeholder"}}<div class="placeholder">{{with .Title}}<span class="label">{{.}}: </span>{{end}}<span class="value">{{.Text}}</span></div>{{end}}

{{define "formula"}}<div class="formula">{{with .Title}}<span class="label">{{.}}: </span>{{end}}<span class="value">{{.Text}}</span></div>{{end}}

{{define "table"}}{{with .Title}}<div class="table-title">{{.}}</div>{{end}}<table class="tests"><thead><tr>{{range .Table.Headers}}<th>{{.}}</th>{{end}}</tr></thead><tbody>{{range .Table.Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{else}}<tr><td colspan="{{len .Table.Headers}}" class="empty">Belum ada data uji</td></tr>{{end}}</tbody>{{if .Table.Average}}<tfoot><tr><td colspan="3">Rata-rata</td><td>{{.Table.Average}}</td></tr></tfoot>{{end}}</table>{{end}}

{{define "chart"}}{{with .Title}}<div class="chart-title">{{.}}</div>{{end}}<svg class="chart" viewBox="0 0 {{.Chart.Width}} {{.Chart.Height}}" preserveAspectRatio="none" style="height:{{.Chart.HeightMM}}mm">{{range .Chart.Bars}}<rect x="{{.X}}" y="{{.Y}}" width="{{.W}}" height="{{.H}}" fill="{{$.Chart.Color}}"><title>{{.Label}}: {{.Value}}</title></rect>{{end}}</svg>{{end}}

{{define "image"}}{{if .Src}}<img class="image" src="{{.Src}}" alt="" style="{{.MediaStyle}}">{{else if .Editable}}<div class="image-empty">Gambar belum dipilih</div>{{end}}{{end}}

{{define "qr-code"}}{{if .Src}}<img class="qr" src="{{.Src}}" alt="{{.Text}}" style="{{.MediaStyle}}">{{end}}{{end}}

{{define "signature"}}<div class="signature">{{with .Title}}<div class="label">{{.}}</div>{{end}}<div class="signature-space"></div><div class="name">{{.Text}}</div>{{with .Subtitle}}<div class="role">{{.}}</div>{{end}}</div>{{end}}

{{define "spacer"}}{{end}}

{{define "line"}}<hr class="line">{{end}}
`

const baseCSS = `
*{box-sizing:border-box}
body{margin:0;font-family:Helvetica,Arial,sans-serif;font-size:10pt;color:#111}
.canvas-editable{background:#e5e7eb;padding:16px}
.page{position:relative;background:#fff;margin:0 auto;padding:15mm;display:flex;flex-direction:column;overflow:hidden;page-break-after:always}
.canvas-editable .page{margin-bottom:16px;box-shadow:0 1px 4px rgba(0,0,0,.2)}
.page-a4.portrait{width:210mm;height:297mm}
.page-a4.landscape{width:297mm;height:210mm}
.page-letter.portrait{width:215.9mm;height:279.4mm}
.page-letter.landscape{width:279.4mm;height:215.9mm}
.page-body{flex:1}
.canvas-editable .drop-list,.canvas-editable .slot{min-height:8mm;outline:1px dashed #cbd5e1}
.node{position:relative;margin-bottom:2mm}
.canvas-editable .node:hover{outline:1px solid #93c5fd}
.node.is-selected{outline:2px solid #2563eb}
.node-delete{position:absolute;top:0;right:0;display:none}
.canvas-editable .node:hover>.node-delete,.node.is-selected>.node-delete{display:block}
.header-title{font-size:14pt;font-weight:bold;text-align:center}
.header-subtitle{text-align:center}
.footer-text{text-align:center;font-size:8pt}
.text{white-space:pre-wrap}
.columns{display:grid}
table.tests{width:100%;border-collapse:collapse}
table.tests th,table.tests td{border:0.2mm solid #000;padding:1mm;text-align:center}
.chart{width:100%}
.signature{width:60mm;text-align:center}
.signature-space{height:20mm}
.signature .name{font-weight:bold;text-decoration:underline}
.line{border:0;margin:1mm 0}
`

var (
	documentTemplate = template.Must(template.New("document").Parse(documentSource))
	nodeTemplates    = template.Must(template.New("nodes").Parse(nodeSource))
)
