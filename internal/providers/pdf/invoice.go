// Package pdf renders invoices for download.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	billingdomain "github.com/smallbiznis/meterline/internal/billing/domain"
)

type Provider interface {
	RenderInvoice(ctx context.Context, invoice *billingdomain.Invoice) (io.Reader, error)
}

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) RenderInvoice(ctx context.Context, invoice *billingdomain.Invoice) (io.Reader, error) {
	if invoice == nil {
		return nil, fmt.Errorf("missing invoice")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(10,
		text.NewCol(12, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.ID.String(), props.Text{Top: 0}),
			text.New("Plan: "+invoice.PlanCode, props.Text{Top: 4}),
			text.New(fmt.Sprintf("Service period: %s to %s",
				invoice.PeriodStart.Format("2006-01-02"),
				invoice.PeriodEnd.Format("2006-01-02")), props.Text{Top: 8}),
			text.New("Date due: "+invoice.DueDate.Format("2006-01-02"), props.Text{Top: 12}),
		),
		col.New(6),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Overage", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	m.AddRow(15,
		text.NewCol(6, "Base fee", props.Text{Size: 9}),
		text.NewCol(3, "", props.Text{Size: 9}),
		text.NewCol(3, money(invoice.BaseFee, invoice.Currency), props.Text{Size: 9, Align: align.Right}),
	)

	for _, line := range invoice.Lines {
		m.AddRow(15,
			text.NewCol(6, line.Description, props.Text{Size: 9}),
			text.NewCol(3, fmt.Sprintf("%g", line.OverageQuantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, money(line.Amount, invoice.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total due", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(3, money(invoice.TotalAmount, invoice.Currency), props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func money(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}
