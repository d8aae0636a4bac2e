package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/cache"
	"panaderia/backend/internal/config"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/service"
	"panaderia/backend/internal/store"
	"panaderia/backend/internal/store/memory"
	pgstore "panaderia/backend/internal/store/postgres"
)

const usage = `usage: caja [global flags] <command> [flags]

commands:
  migrate          apply database migrations
  products         list products
  product-add      create a product
  product-update   patch a product (use --active=false to retire it)
  sales            list sales
  sale-record      record a sale from a JSON file (--file, "-" for stdin)
  sale-update      patch a sale from a JSON file
  sale-delete      delete a sale
  summary          sales summary for a date range
  closing          show the cash closing (or draft) for a day
  closing-create   record the cash closing for a day
  closing-update   correct a recorded closing
  closings         list closings, newest first
  audit            list audit entries

global flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("caja", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := openBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer deps.close()

	a := &app{
		svc:  service.New(deps.repo, deps.summaries, cfg.SummaryCacheTTL()),
		pg:   deps.pg,
		in:   stdin,
		out:  stdout,
		ctx:  service.WithActor(ctx, domain.Actor{Username: cfg.Operator}),
		name: fs.Arg(0),
	}
	if err := a.dispatch(fs.Args()[1:]); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

type backend struct {
	repo      store.Repository
	pg        *pgstore.Store
	summaries cache.SummaryCache
	closers   []func() error
}

func (b *backend) close() {
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{summaries: cache.NoopSummaryCache{}}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable (%v) and DATABASE_URL is set; refusing to fall back to the in-memory ledger", err)
		}
		b.repo = pg
		b.pg = pg
		b.closers = append(b.closers, pg.Close)
		log.Println("repository: postgres")
		if cfg.MigrateOnStart {
			if err := pg.Migrate(); err != nil {
				b.close()
				return nil, err
			}
		}
	} else if cfg.SeedDemoData {
		b.repo = memory.NewSeeded()
		log.Println("repository: in-memory (demo catalog)")
	} else {
		b.repo = memory.New()
		log.Println("repository: in-memory")
	}
	if b.pg == nil {
		log.Println("[caja] WARN: in-memory ledger does not persist between runs; set DATABASE_URL to keep sales and closings")
	}

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(connectCtx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
			_ = redisCache.Close()
		} else {
			b.summaries = redisCache
			b.closers = append(b.closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	return b, nil
}

func exitCode(err error) int {
	kind, ok := apperror.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case apperror.KindValidation:
		return 3
	case apperror.KindNotFound:
		return 4
	case apperror.KindConflict:
		return 5
	default:
		return 1
	}
}
