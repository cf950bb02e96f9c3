package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "tmusync/internal/log"
	"tmusync/internal/model"
)

const DefaultTimeout = 30 * time.Second

// TableOptions describes where the timetable lives on the portal.
type TableOptions struct {
	// URL of the rendered timetable page.
	URL string

	// Selector for the table element; "table" if empty.
	Selector string

	// Timeout bounds the whole browser session.
	Timeout time.Duration
}

// rowsScript collects the trimmed text of every cell, row by row.
const rowsScript = `(function(sel) {
	const table = document.querySelector(sel);
	if (!table) { return []; }
	return Array.from(table.querySelectorAll('tr')).map(function(tr) {
		return Array.from(tr.querySelectorAll('th,td')).map(function(td) {
			return (td.innerText || '').trim();
		});
	});
})(%q)`

// ReadTable launches headless Chromium via chromedp, waits for the
// timetable table to become visible and returns its cell text.
func ReadTable(parentCtx context.Context, opts TableOptions) ([][]string, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("portal: URL is required")
	}
	if opts.Selector == "" {
		opts.Selector = "table"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var rows [][]string
	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.Selector, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(rowsScript, opts.Selector), &rows),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("portal: chromedp run failed: %w", err)
	}

	appLog.Debug("portal table read", "rows", len(rows))
	return rows, nil
}

// ReadCatalog reads the timetable table and converts it to catalog entries.
func ReadCatalog(ctx context.Context, opts TableOptions) ([]model.CatalogEntry, error) {
	rows, err := ReadTable(ctx, opts)
	if err != nil {
		return nil, err
	}
	return ParseRows(rows), nil
}
