package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/config"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/service"
	"panaderia/backend/internal/store/memory"
)

func newTestApp() (*app, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &app{
		svc:   service.New(memory.NewSeeded(), nil, 0),
		in:    strings.NewReader(""),
		out:   out,
		ctx:   service.WithActor(context.Background(), domain.Actor{Username: "tester"}),
		today: func() domain.Date { return domain.NewDate(2024, time.March, 1) },
	}, out
}

func call(a *app, out *bytes.Buffer, stdin string, name string, args ...string) ([]byte, error) {
	out.Reset()
	a.name = name
	a.in = strings.NewReader(stdin)
	err := a.dispatch(args)
	return out.Bytes(), err
}

const cashSale = `{"date":"2024-03-01","payment_method":"cash","items":[{"product_id":1,"quantity":"2","unit_price":"150"}]}`

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "usage: caja") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"bogus"}, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "bogus"`) {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestRunListsSeededProducts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--operator", "ana", "products", "--category", "Tortas"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	var products []domain.Product
	if err := json.Unmarshal(stdout.Bytes(), &products); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 cakes in the demo catalog, got %d", len(products))
	}
}

func TestSaleRecordFromStdinFeedsSummary(t *testing.T) {
	a, out := newTestApp()

	raw, err := call(a, out, cashSale, "sale-record", "--file", "-")
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	var sale domain.Sale
	if err := json.Unmarshal(raw, &sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if !sale.Total.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected total 300, got %s", sale.Total)
	}

	raw, err = call(a, out, "", "summary")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	var summary domain.SalesSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalCount != 1 || !summary.PaymentTotals[domain.PaymentCash].Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSaleRecordFromFile(t *testing.T) {
	a, out := newTestApp()
	path := filepath.Join(t.TempDir(), "sale.json")
	if err := os.WriteFile(path, []byte(cashSale), 0o600); err != nil {
		t.Fatalf("write sale: %v", err)
	}

	if _, err := call(a, out, "", "sale-record", "--file", path); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := call(a, out, "", "sale-delete", "--id", "1"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	_, err := call(a, out, "", "sale-delete", "--id", "1")
	if exitCode(err) != 4 {
		t.Fatalf("expected not found exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestSaleRecordRejectsBadInput(t *testing.T) {
	a, out := newTestApp()

	_, err := call(a, out, `{"date":"2024-03-01","payment_method":"cash","items":[]}`, "sale-record", "--file", "-")
	if !apperror.IsValidation(err) || exitCode(err) != 3 {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = call(a, out, `{"date":"2024-03-01","surprise":true}`, "sale-record", "--file", "-")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected unknown fields to be rejected, got %v", err)
	}

	_, err = call(a, out, "", "sale-record")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected missing --file to be rejected, got %v", err)
	}
}

type closingOutput struct {
	State   domain.ClosingState    `json:"state"`
	Closing json.RawMessage        `json:"closing"`
	Preview *domain.Reconciliation `json:"preview"`
}

func TestClosingDraftPreviewThenCommit(t *testing.T) {
	a, out := newTestApp()
	if _, err := call(a, out, cashSale, "sale-record", "--file", "-"); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	raw, err := call(a, out, "", "closing", "--initial", "1000", "--counted", "1200", "--expenses", "50")
	if err != nil {
		t.Fatalf("closing draft: %v", err)
	}
	var draft closingOutput
	if err := json.Unmarshal(raw, &draft); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if draft.State != domain.ClosingDraft || draft.Preview == nil {
		t.Fatalf("expected draft with preview, got %s", raw)
	}
	if !draft.Preview.ExpectedCash.Equal(decimal.NewFromInt(1250)) || !draft.Preview.Difference.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("unexpected preview %+v", draft.Preview)
	}

	raw, err = call(a, out, "", "closing-create", "--date", "2024-03-01", "--initial", "1000", "--counted", "1250", "--expenses", "50", "--notes", "ok")
	if err != nil {
		t.Fatalf("create closing: %v", err)
	}
	var closing domain.CashClosing
	if err := json.Unmarshal(raw, &closing); err != nil {
		t.Fatalf("decode closing: %v", err)
	}
	if !closing.Difference.IsZero() || closing.Variance() != domain.VarianceExact {
		t.Fatalf("expected exact closing, got %+v", closing)
	}

	raw, err = call(a, out, "", "closing", "--date", "2024-03-01")
	if err != nil {
		t.Fatalf("closing committed: %v", err)
	}
	var committed closingOutput
	if err := json.Unmarshal(raw, &committed); err != nil {
		t.Fatalf("decode committed: %v", err)
	}
	if committed.State != domain.ClosingCommitted || committed.Preview != nil {
		t.Fatalf("expected committed closing, got %s", raw)
	}

	_, err = call(a, out, "", "closing-create", "--date", "2024-03-01", "--counted", "1")
	if exitCode(err) != 5 {
		t.Fatalf("expected conflict exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestClosingUpdateOnlyPatchesChangedFlags(t *testing.T) {
	a, out := newTestApp()
	if _, err := call(a, out, cashSale, "sale-record", "--file", "-"); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := call(a, out, "", "closing-create", "--initial", "1000", "--counted", "1300", "--expenses", "50", "--notes", "first count"); err != nil {
		t.Fatalf("create closing: %v", err)
	}

	raw, err := call(a, out, "", "closing-update", "--id", "1", "--counted", "1250", "--notes", "")
	if err != nil {
		t.Fatalf("update closing: %v", err)
	}
	var closing domain.CashClosing
	if err := json.Unmarshal(raw, &closing); err != nil {
		t.Fatalf("decode closing: %v", err)
	}
	if !closing.InitialCash.Equal(decimal.NewFromInt(1000)) || !closing.Expenses.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unchanged figures were overwritten: %+v", closing)
	}
	if !closing.Difference.IsZero() {
		t.Fatalf("expected difference 0 after correction, got %s", closing.Difference)
	}
	if closing.Notes != nil {
		t.Fatalf("expected empty --notes to clear the note, got %q", *closing.Notes)
	}
}

func TestProductUpdateAndAudit(t *testing.T) {
	a, out := newTestApp()

	if _, err := call(a, out, "", "product-add", "--name", "Budín", "--category", "Dulces", "--price", "950.50"); err != nil {
		t.Fatalf("add product: %v", err)
	}
	raw, err := call(a, out, "", "product-update", "--id", "11", "--active=false")
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if product.Active || product.Name != "Budín" {
		t.Fatalf("unexpected product %+v", product)
	}

	raw, err = call(a, out, "", "audit", "--from", "2000-01-01", "--to", "2100-01-01")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var logs []domain.AuditLog
	if err := json.Unmarshal(raw, &logs); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(logs) != 2 || logs[0].ActorUsername != "tester" {
		t.Fatalf("expected 2 audit entries by tester, got %+v", logs)
	}
}

func TestOpenBackendWarnsWhenLedgerIsNotPersisted(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	b, err := openBackend(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer b.close()

	if b.pg != nil {
		t.Fatalf("expected in-memory repository without DATABASE_URL")
	}
	if !strings.Contains(logs.String(), "does not persist") {
		t.Fatalf("expected persistence warning, logs: %q", logs.String())
	}
}

func TestParseRange(t *testing.T) {
	rng, err := parseRange("2024-03-01", "")
	if err != nil || !rng.Start.Equal(rng.End) {
		t.Fatalf("expected single day range, got %+v (%v)", rng, err)
	}
	if _, err := parseRange("2024-03-02", "2024-03-01"); !apperror.IsValidation(err) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}
	if _, err := parseRange("03/01/2024", ""); !apperror.IsValidation(err) {
		t.Fatalf("expected bad date to be rejected, got %v", err)
	}
}
