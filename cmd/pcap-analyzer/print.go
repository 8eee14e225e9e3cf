package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/display"
	"NetSpectraTables/internal/factory"
	"NetSpectraTables/internal/sorting"
)

type printer struct {
	out      io.Writer
	f        *display.Formatter
	cfg      config.DisplayConfig
	convSort sorting.ConversationColumn
	endpSort sorting.EndpointColumn
}

func newPrinter(out io.Writer, cfg config.DisplayConfig, resolver sorting.NameResolver) (*printer, error) {
	p := &printer{
		out:      out,
		f:        display.NewFormatter(cfg, resolver),
		cfg:      cfg,
		convSort: sorting.ConvBytes,
		endpSort: sorting.EndpBytes,
	}
	if cfg.SortColumn == "" {
		return p, nil
	}
	convCol, convErr := sorting.ParseConversationColumn(cfg.SortColumn)
	endpCol, endpErr := sorting.ParseEndpointColumn(cfg.SortColumn)
	if convErr != nil && endpErr != nil {
		return nil, fmt.Errorf("unknown sort column %q", cfg.SortColumn)
	}
	if convErr == nil {
		p.convSort = convCol
	}
	if endpErr == nil {
		p.endpSort = endpCol
	}
	return p, nil
}

func (p *printer) limit(n int) int {
	if p.cfg.Limit > 0 && n > p.cfg.Limit {
		return p.cfg.Limit
	}
	return n
}

func (p *printer) printSet(set *factory.TableSet) error {
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', tabwriter.AlignRight)

	convs := set.Conversations
	cols := convs.Columns()
	fmt.Fprintf(p.out, "\n== Conversations: %s ==\n", convs.Title())
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Title(p.cfg.AbsoluteStart)
	}
	writeRow(tw, header)
	handles := convs.Sorted(p.convSort, p.cfg.ResolveNames, p.cfg.SortDescending)
	for _, h := range handles[:p.limit(len(handles))] {
		rec, err := convs.Record(h)
		if err != nil {
			continue
		}
		writeRow(tw, p.f.ConversationRow(cols, &rec))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	eps := set.Endpoints
	ecols := eps.Columns()
	fmt.Fprintf(p.out, "\n== Endpoints: %s ==\n", eps.Title())
	header = make([]string, len(ecols))
	for i, c := range ecols {
		header[i] = c.Title()
	}
	writeRow(tw, header)
	ehandles := eps.Sorted(p.endpSort, p.cfg.ResolveNames, p.cfg.SortDescending)
	for _, h := range ehandles[:p.limit(len(ehandles))] {
		rec, err := eps.Record(h)
		if err != nil {
			continue
		}
		writeRow(tw, p.f.EndpointRow(ecols, &rec))
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	fmt.Fprintln(w, strings.Join(cells, "\t")+"\t")
}
