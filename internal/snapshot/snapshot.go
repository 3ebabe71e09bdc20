// Package snapshot renders a refresh round as static files for hosting
// without a running server.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/eugenenazirov/fractal-balances/internal/explorer"
	"github.com/eugenenazirov/fractal-balances/internal/tracker"
)

const (
	indexFile    = "index.html"
	balancesFile = "balances.json"
)

var pageTemplate = template.Must(template.New(indexFile).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Cryptocurrency Account Balance Dashboard</title>
<style>
body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2933}
table{border-collapse:collapse;min-width:40rem}
th,td{padding:.4rem .8rem;border-bottom:1px solid #d9e2ec;text-align:left}
td.num{text-align:right;font-variant-numeric:tabular-nums}
.failed{color:#b42318}
</style>
</head>
<body>
<h1>Cryptocurrency Account Balance Dashboard</h1>
<p>Snapshot taken {{.TakenAt}}</p>
{{if .Rows}}
<table>
<thead><tr><th>Address</th><th>Balance (BTC)</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.Address}}</td><td class="num">{{.Balance}}</td></tr>
{{end}}</tbody>
<tfoot><tr><th>Total</th><th class="num">{{.Total}}</th></tr></tfoot>
</table>
{{else}}
<p>No balances available. Add Bitcoin addresses to start tracking balances.</p>
{{end}}
{{if .Failed}}<p class="failed">Could not fetch: {{range $i, $a := .Failed}}{{if $i}}, {{end}}{{$a}}{{end}}</p>{{end}}
</body>
</html>
`))

type pageRow struct {
	Address string
	Balance string
}

type pageData struct {
	TakenAt string
	Rows    []pageRow
	Total   string
	Failed  []string
}

type balancesDocument struct {
	TakenAt  time.Time         `json:"takenAt"`
	Balances []balanceDocument `json:"balances"`
	Failed   []string          `json:"failed"`
	Total    string            `json:"total"`
}

type balanceDocument struct {
	Address  string `json:"address"`
	Satoshis int64  `json:"satoshis"`
	Balance  string `json:"balance"`
}

// Write renders snap into dir as index.html and balances.json, replacing both atomically.
func Write(dir string, snap tracker.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create public dir: %w", err)
	}

	page, err := renderPage(snap)
	if err != nil {
		return err
	}
	doc, err := renderJSON(snap)
	if err != nil {
		return err
	}

	if err := renameio.WriteFile(filepath.Join(dir, balancesFile), doc, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", balancesFile, err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, indexFile), page, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", indexFile, err)
	}
	return nil
}

func renderPage(snap tracker.Snapshot) ([]byte, error) {
	data := pageData{
		TakenAt: snap.TakenAt.UTC().Format(time.RFC1123),
		Total:   explorer.FormatBTC(snap.TotalSatoshis),
		Failed:  snap.Failed,
	}
	for _, b := range snap.Balances {
		data.Rows = append(data.Rows, pageRow{Address: b.Address, Balance: explorer.FormatBTC(b.Satoshis)})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

func renderJSON(snap tracker.Snapshot) ([]byte, error) {
	doc := balancesDocument{
		TakenAt:  snap.TakenAt,
		Balances: make([]balanceDocument, 0, len(snap.Balances)),
		Failed:   append([]string{}, snap.Failed...),
		Total:    explorer.FormatBTC(snap.TotalSatoshis),
	}
	for _, b := range snap.Balances {
		doc.Balances = append(doc.Balances, balanceDocument{
			Address:  b.Address,
			Satoshis: b.Satoshis,
			Balance:  explorer.FormatBTC(b.Satoshis),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode balances: %w", err)
	}
	return append(data, '\n'), nil
}
