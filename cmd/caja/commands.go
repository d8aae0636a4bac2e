package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/money"
	"panaderia/backend/internal/service"
	pgstore "panaderia/backend/internal/store/postgres"
)

type app struct {
	svc  *service.Service
	pg   *pgstore.Store
	in   io.Reader
	out  io.Writer
	ctx  context.Context
	name string

	// today is overridden in tests.
	today func() domain.Date
}

type command func(a *app, fs *pflag.FlagSet, args []string) error

var commands = map[string]command{
	"migrate":        runMigrate,
	"products":       runProducts,
	"product-add":    runProductAdd,
	"product-update": runProductUpdate,
	"sales":          runSales,
	"sale-record":    runSaleRecord,
	"sale-update":    runSaleUpdate,
	"sale-delete":    runSaleDelete,
	"summary":        runSummary,
	"closing":        runClosing,
	"closing-create": runClosingCreate,
	"closing-update": runClosingUpdate,
	"closings":       runClosings,
	"audit":          runAudit,
}

func (a *app) dispatch(args []string) error {
	cmd, ok := commands[a.name]
	if !ok {
		return fmt.Errorf("unknown command %q", a.name)
	}
	fs := pflag.NewFlagSet(a.name, pflag.ContinueOnError)
	return cmd(a, fs, args)
}

func (a *app) currentDate() domain.Date {
	if a.today != nil {
		return a.today()
	}
	return domain.DateOf(time.Now())
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// decodeFile reads a JSON request from path, or from stdin when path is "-".
func (a *app) decodeFile(path string, dst any) error {
	if path == "" {
		return apperror.Validation("file", "--file is required")
	}
	var r io.Reader = a.in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation("file", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func runMigrate(a *app, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.pg == nil {
		return errors.New("migrate needs DATABASE_URL")
	}
	return a.pg.Migrate()
}

func runProducts(a *app, fs *pflag.FlagSet, args []string) error {
	search := fs.String("search", "", "name contains (case-insensitive)")
	category := fs.String("category", "", "exact category")
	active := fs.String("active", "", "true or false; empty lists both")
	limit := fs.Int("limit", 0, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := domain.ProductFilter{Search: *search, Limit: *limit, Offset: *offset}
	if fs.Changed("category") {
		filter.Category = category
	}
	if *active != "" {
		v, err := strconv.ParseBool(*active)
		if err != nil {
			return apperror.Validation("active", "must be true or false")
		}
		filter.Active = &v
	}

	products, err := a.svc.ListProducts(a.ctx, filter)
	if err != nil {
		return err
	}
	return a.print(products)
}

func runProductAdd(a *app, fs *pflag.FlagSet, args []string) error {
	name := fs.String("name", "", "product name")
	category := fs.String("category", "", "category")
	price := fs.String("price", "", "unit price")
	inactive := fs.Bool("inactive", false, "create the product retired")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := parseAmount("price", *price)
	if err != nil {
		return err
	}
	req := domain.ProductCreateRequest{Name: *name, Price: p}
	if fs.Changed("category") {
		req.Category = category
	}
	if *inactive {
		f := false
		req.Active = &f
	}

	product, err := a.svc.CreateProduct(a.ctx, req)
	if err != nil {
		return err
	}
	return a.print(product)
}

func runProductUpdate(a *app, fs *pflag.FlagSet, args []string) error {
	id := fs.Int64("id", 0, "product id")
	name := fs.String("name", "", "new name")
	category := fs.String("category", "", "new category; empty clears it")
	price := fs.String("price", "", "new unit price")
	active := fs.Bool("active", true, "whether the product is offered")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req domain.ProductUpdateRequest
	if fs.Changed("name") {
		req.Name = name
	}
	if fs.Changed("category") {
		req.Category = category
	}
	if fs.Changed("price") {
		p, err := parseAmount("price", *price)
		if err != nil {
			return err
		}
		req.Price = &p
	}
	if fs.Changed("active") {
		req.Active = active
	}

	product, err := a.svc.UpdateProduct(a.ctx, *id, req)
	if err != nil {
		return err
	}
	return a.print(product)
}

func runSales(a *app, fs *pflag.FlagSet, args []string) error {
	from := fs.String("from", "", "first day (YYYY-MM-DD)")
	to := fs.String("to", "", "last day, defaults to --from")
	method := fs.String("method", "", "payment method")
	limit := fs.Int("limit", 0, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := domain.SaleFilter{Limit: *limit, Offset: *offset}
	if *from != "" {
		rng, err := parseRange(*from, *to)
		if err != nil {
			return err
		}
		filter.Range = &rng
	}
	if *method != "" {
		m := domain.PaymentMethod(strings.ToLower(*method))
		filter.PaymentMethod = &m
	}

	sales, err := a.svc.ListSales(a.ctx, filter)
	if err != nil {
		return err
	}
	return a.print(sales)
}

func runSaleRecord(a *app, fs *pflag.FlagSet, args []string) error {
	file := fs.String("file", "", `JSON sale request, "-" for stdin`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req domain.SaleCreateRequest
	if err := a.decodeFile(*file, &req); err != nil {
		return err
	}
	sale, err := a.svc.RecordSale(a.ctx, req)
	if err != nil {
		return err
	}
	return a.print(sale)
}

func runSaleUpdate(a *app, fs *pflag.FlagSet, args []string) error {
	id := fs.Int64("id", 0, "sale id")
	file := fs.String("file", "", `JSON patch, "-" for stdin`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req domain.SaleUpdateRequest
	if err := a.decodeFile(*file, &req); err != nil {
		return err
	}
	sale, err := a.svc.UpdateSale(a.ctx, *id, req)
	if err != nil {
		return err
	}
	return a.print(sale)
}

func runSaleDelete(a *app, fs *pflag.FlagSet, args []string) error {
	id := fs.Int64("id", 0, "sale id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.svc.DeleteSale(a.ctx, *id); err != nil {
		return err
	}
	return a.print(map[string]any{"deleted": *id})
}

func runSummary(a *app, fs *pflag.FlagSet, args []string) error {
	from := fs.String("from", "", "first day, defaults to today")
	to := fs.String("to", "", "last day, defaults to --from")
	if err := fs.Parse(args); err != nil {
		return err
	}

	start := *from
	if start == "" {
		start = a.currentDate().String()
	}
	rng, err := parseRange(start, *to)
	if err != nil {
		return err
	}
	summary, err := a.svc.Summarize(a.ctx, rng.Start, rng.End)
	if err != nil {
		return err
	}
	return a.print(summary)
}

type closingView struct {
	State   domain.ClosingState    `json:"state"`
	Closing domain.DayClosing      `json:"closing"`
	Preview *domain.Reconciliation `json:"preview,omitempty"`
}

func runClosing(a *app, fs *pflag.FlagSet, args []string) error {
	date := fs.String("date", "", "day, defaults to today")
	counts := registerCountFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	day, err := parseDateOr(*date, a.currentDate())
	if err != nil {
		return err
	}
	closing, err := a.svc.GetClosing(a.ctx, day)
	if err != nil {
		return err
	}

	view := closingView{State: closing.State(), Closing: closing}
	if draft, ok := closing.(domain.DraftClosing); ok && counts.any(fs) {
		count, err := counts.cashCount()
		if err != nil {
			return err
		}
		if err := count.Validate(); err != nil {
			return err
		}
		preview := draft.Preview(count)
		view.Preview = &preview
	}
	return a.print(view)
}

func runClosingCreate(a *app, fs *pflag.FlagSet, args []string) error {
	date := fs.String("date", "", "day, defaults to today")
	counts := registerCountFlags(fs)
	expenseNotes := fs.String("expense-notes", "", "what the expenses were")
	notes := fs.String("notes", "", "free-form notes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	day, err := parseDateOr(*date, a.currentDate())
	if err != nil {
		return err
	}
	count, err := counts.cashCount()
	if err != nil {
		return err
	}
	req := domain.ClosingCreateRequest{
		Date:        day,
		InitialCash: count.InitialCash,
		CountedCash: count.CountedCash,
		Expenses:    count.Expenses,
		Withdrawals: count.Withdrawals,
	}
	if fs.Changed("expense-notes") {
		req.ExpenseNotes = expenseNotes
	}
	if fs.Changed("notes") {
		req.Notes = notes
	}

	closing, err := a.svc.CreateClosing(a.ctx, req)
	if err != nil {
		return err
	}
	return a.print(closing)
}

func runClosingUpdate(a *app, fs *pflag.FlagSet, args []string) error {
	id := fs.Int64("id", 0, "closing id")
	counts := registerCountFlags(fs)
	expenseNotes := fs.String("expense-notes", "", "what the expenses were; empty clears it")
	notes := fs.String("notes", "", "free-form notes; empty clears it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req domain.ClosingUpdateRequest
	var err error
	if req.InitialCash, err = counts.changed(fs, "initial"); err != nil {
		return err
	}
	if req.CountedCash, err = counts.changed(fs, "counted"); err != nil {
		return err
	}
	if req.Expenses, err = counts.changed(fs, "expenses"); err != nil {
		return err
	}
	if req.Withdrawals, err = counts.changed(fs, "withdrawals"); err != nil {
		return err
	}
	if fs.Changed("expense-notes") {
		req.ExpenseNotes = expenseNotes
	}
	if fs.Changed("notes") {
		req.Notes = notes
	}

	closing, err := a.svc.UpdateClosing(a.ctx, *id, req)
	if err != nil {
		return err
	}
	return a.print(closing)
}

func runClosings(a *app, fs *pflag.FlagSet, args []string) error {
	from := fs.String("from", "", "first day (YYYY-MM-DD)")
	to := fs.String("to", "", "last day, defaults to --from")
	limit := fs.Int("limit", 0, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := domain.ClosingFilter{Limit: *limit, Offset: *offset}
	if *from != "" {
		rng, err := parseRange(*from, *to)
		if err != nil {
			return err
		}
		filter.Range = &rng
	}
	closings, err := a.svc.ListClosings(a.ctx, filter)
	if err != nil {
		return err
	}
	return a.print(closings)
}

func runAudit(a *app, fs *pflag.FlagSet, args []string) error {
	from := fs.String("from", "", "first day, defaults to today")
	to := fs.String("to", "", "last day, defaults to --from")
	limit := fs.Int("limit", 0, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	start := *from
	if start == "" {
		start = a.currentDate().String()
	}
	rng, err := parseRange(start, *to)
	if err != nil {
		return err
	}
	logs, err := a.svc.ListAuditLogs(a.ctx, rng, *limit)
	if err != nil {
		return err
	}
	return a.print(logs)
}

// countFlags holds the raw cash count flags shared by the closing commands.
type countFlags struct {
	values map[string]*string
}

var countFlagNames = []string{"initial", "counted", "expenses", "withdrawals"}

func registerCountFlags(fs *pflag.FlagSet) countFlags {
	c := countFlags{values: make(map[string]*string, len(countFlagNames))}
	c.values["initial"] = fs.String("initial", "0", "float in the drawer at opening")
	c.values["counted"] = fs.String("counted", "0", "cash counted at close")
	c.values["expenses"] = fs.String("expenses", "0", "cash paid out for expenses")
	c.values["withdrawals"] = fs.String("withdrawals", "0", "cash taken out of the drawer")
	return c
}

func (c countFlags) any(fs *pflag.FlagSet) bool {
	for _, name := range countFlagNames {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

func (c countFlags) cashCount() (domain.CashCount, error) {
	var parsed [4]decimal.Decimal
	for i, name := range countFlagNames {
		d, err := parseAmount(name, *c.values[name])
		if err != nil {
			return domain.CashCount{}, err
		}
		parsed[i] = d
	}
	return domain.CashCount{
		InitialCash: parsed[0],
		CountedCash: parsed[1],
		Expenses:    parsed[2],
		Withdrawals: parsed[3],
	}, nil
}

func (c countFlags) changed(fs *pflag.FlagSet, name string) (*decimal.Decimal, error) {
	if !fs.Changed(name) {
		return nil, nil
	}
	d, err := parseAmount(name, *c.values[name])
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseAmount(field string, raw string) (decimal.Decimal, error) {
	d, err := money.Parse(raw)
	if err != nil {
		return decimal.Zero, apperror.Validation(field, err.Error())
	}
	return d, nil
}

func parseDateOr(raw string, fallback domain.Date) (domain.Date, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return domain.Date{}, apperror.Validation("date", err.Error())
	}
	return d, nil
}

func parseRange(from string, to string) (domain.DateRange, error) {
	start, err := domain.ParseDate(from)
	if err != nil {
		return domain.DateRange{}, apperror.Validation("from", err.Error())
	}
	end := start
	if to != "" {
		if end, err = domain.ParseDate(to); err != nil {
			return domain.DateRange{}, apperror.Validation("to", err.Error())
		}
	}
	rng := domain.DateRange{Start: start, End: end}
	if err := rng.Validate(); err != nil {
		return domain.DateRange{}, err
	}
	return rng, nil
}
