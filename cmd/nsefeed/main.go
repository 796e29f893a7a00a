// nsefeed is a command line front end for the nsefeed library: fetch
// daily snapshots, symbol history and index history from NSE, and
// manage the local cache.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bobmcallan/nsefeed"
	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
)

const usage = `nsefeed - NSE India end-of-day market data

Usage:
  nsefeed snapshot -date YYYY-MM-DD            Fetch one day's bhav copy
  nsefeed history -symbol SYM [-period 1mo]    Fetch a symbol's history
  nsefeed bulk -symbols A,B,C [-period 1mo]    Fetch several symbols
  nsefeed index -name "Nifty 50" [-period 1mo] Fetch an index's history
  nsefeed cache (stats|clear|expire)           Manage the local cache
  nsefeed version                              Print version

Flags common to data commands:
  -period   Relative period: 1d 5d 1mo 3mo 6mo 1y 2y 5y 10y ytd max
  -from     Range start (YYYY-MM-DD), overrides -period with -to
  -to       Range end (YYYY-MM-DD)
  -log      Log level (default warn)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "snapshot":
		err = runSnapshot(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "bulk":
		err = runBulk(ctx, os.Args[2:])
	case "index":
		err = runIndex(ctx, os.Args[2:])
	case "cache":
		err = runCache(ctx, os.Args[2:])
	case "version":
		fmt.Println(common.GetFullVersion())
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "nsefeed: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags holds the flags shared by the data commands
type commonFlags struct {
	period   string
	from     string
	to       string
	logLevel string
	cacheDir string
	noCache  bool
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.period, "period", "", "relative period ending today")
	fs.StringVar(&cf.from, "from", "", "range start (YYYY-MM-DD)")
	fs.StringVar(&cf.to, "to", "", "range end (YYYY-MM-DD)")
	fs.StringVar(&cf.logLevel, "log", "warn", "log level")
	fs.StringVar(&cf.cacheDir, "cache-dir", "", "cache directory override")
	fs.BoolVar(&cf.noCache, "no-cache", false, "bypass the local cache")
	return cf
}

func (cf *commonFlags) newClient() (*nsefeed.Client, error) {
	opts := []nsefeed.Option{nsefeed.WithLogLevel(cf.logLevel)}
	if cf.cacheDir != "" {
		opts = append(opts, nsefeed.WithCacheDir(cf.cacheDir))
	}
	if cf.noCache {
		opts = append(opts, nsefeed.WithoutCache())
	}
	return nsefeed.New(opts...)
}

// resolveRange turns the period/from/to flags into a concrete range
func (cf *commonFlags) resolveRange() (start, end time.Time, err error) {
	if cf.from != "" || cf.to != "" {
		if cf.from == "" || cf.to == "" {
			return start, end, fmt.Errorf("-from and -to must be given together")
		}
		if start, err = dateutil.ParseDate(cf.from); err != nil {
			return start, end, err
		}
		if end, err = dateutil.ParseDate(cf.to); err != nil {
			return start, end, err
		}
		return start, end, nil
	}

	period := cf.period
	if period == "" {
		period = "1mo"
	}
	return dateutil.PeriodRange(period)
}

func runSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	cf := registerCommon(fs)
	dateFlag := fs.String("date", "", "trading day (YYYY-MM-DD), defaults to the last weekday")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	date := dateutil.PreviousTradingDay(time.Now().UTC().AddDate(0, 0, 1))
	if *dateFlag != "" {
		if date, err = dateutil.ParseDate(*dateFlag); err != nil {
			return err
		}
	}

	snapshot, err := client.FetchSnapshot(ctx, date)
	if err != nil {
		return err
	}
	return printJSON(snapshot)
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cf := registerCommon(fs)
	symbol := fs.String("symbol", "", "NSE symbol, e.g. RELIANCE")
	interval := fs.String("interval", "1d", "bar size: 1d, 1wk or 1mo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("-symbol is required")
	}

	client, err := cf.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	opts := []nsefeed.HistoryOption{
		nsefeed.WithInterval(nsefeed.Interval(*interval)),
	}
	if cf.from != "" || cf.to != "" {
		start, end, err := cf.resolveRange()
		if err != nil {
			return err
		}
		opts = append(opts, nsefeed.WithRange(start, end))
	} else if cf.period != "" {
		opts = append(opts, nsefeed.WithPeriod(cf.period))
	}

	history, err := client.Ticker(*symbol).History(ctx, opts...)
	if err != nil {
		return err
	}
	return printJSON(history)
}

func runBulk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	cf := registerCommon(fs)
	symbolsFlag := fs.String("symbols", "", "comma-separated NSE symbols")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbolsFlag == "" {
		return fmt.Errorf("-symbols is required")
	}

	client, err := cf.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	start, end, err := cf.resolveRange()
	if err != nil {
		return err
	}

	symbols := strings.Split(*symbolsFlag, ",")
	result, err := client.BulkHistory(ctx, symbols, start, end)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	cf := registerCommon(fs)
	name := fs.String("name", "Nifty 50", "NSE index name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	start, end, err := cf.resolveRange()
	if err != nil {
		return err
	}

	points, err := client.IndexHistory(ctx, *name, start, end)
	if err != nil {
		return err
	}
	return printJSON(points)
}

func runCache(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("cache needs a subcommand: stats, clear or expire")
	}
	sub := args[0]

	fs := flag.NewFlagSet("cache "+sub, flag.ExitOnError)
	cf := registerCommon(fs)
	symbol := fs.String("symbol", "", "limit clear to one symbol")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	client, err := cf.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	switch sub {
	case "stats":
		stats, err := client.CacheStats(ctx)
		if err != nil {
			return err
		}
		if stats == nil {
			fmt.Println("cache disabled")
			return nil
		}
		return printJSON(stats)
	case "clear":
		if *symbol != "" {
			if err := client.ClearSymbol(ctx, *symbol); err != nil {
				return err
			}
			fmt.Printf("cleared %s\n", strings.ToUpper(*symbol))
			return nil
		}
		if err := client.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	case "expire":
		n, err := client.ClearExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired entries\n", n)
		return nil
	default:
		return fmt.Errorf("unknown cache subcommand %q", sub)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
