package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/internal/fptime"
	"github.com/alovak/secureframe/internal/security"
	"github.com/alovak/secureframe/widget"
	"github.com/alovak/secureframe/widget/models"
)

var (
	flagKind      = flag.String("kind", "STORE", "transaction kind: PAYMENT|PRE_AUTH|STORE")
	flagPayor     = flag.String("payor", "", "payor id (STORE)")
	flagReference = flag.String("reference", "", "primary reference (PAYMENT, PRE_AUTH)")
	flagAmount    = flag.Int64("amount", 0, "amount in cents (defaults to 100)")
	flagTimestamp = flag.String("timestamp", "", "fingerprint timestamp YYYYMMDDHHMMSS in UTC (defaults to now)")
	flagMerchant  = flag.String("merchant", "", "merchant id")
	flagLive      = flag.Bool("live", false, "post to the live payment page")
	flagCardTypes = flag.String("card-types", "", "comma separated card types")
	flagDataURL   = flag.Bool("data-url", false, "print the document as a data URL instead of HTML")
	flagQuiet     = flag.Bool("quiet", false, "print only the fingerprint")
)

type params struct {
	kind      string
	payor     string
	reference string
	amount    int64
	timestamp string
	merchant  string
	live      bool
	cardTypes string
}

func main() {
	flag.Parse()

	key := must1(security.KeyFromEnv())
	signer := security.NewHMACSigner(key)
	security.Wipe(key)
	defer signer.Close()

	opts := must1(buildOptions(params{
		kind:      *flagKind,
		payor:     *flagPayor,
		reference: *flagReference,
		amount:    *flagAmount,
		timestamp: *flagTimestamp,
		merchant:  *flagMerchant,
		live:      *flagLive,
		cardTypes: *flagCardTypes,
	}, time.Now))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	w := must1(widget.New(logger, opts, signer, nil, widget.Callbacks{}))
	must(w.Open(context.Background()))
	defer w.Close()

	snap := w.Snapshot()
	if *flagQuiet {
		fmt.Println(snap.Fingerprint)
		return
	}

	doc := must1(w.Document())
	fmt.Fprintf(os.Stderr, "SUBJECT: %s\nFINGERPRINT: %s\nACTION: %s\n", snap.Subject, snap.Fingerprint, doc.Action)
	if *flagDataURL {
		fmt.Println(doc.DataURL())
		return
	}
	fmt.Print(doc.HTML)
}

func buildOptions(p params, now func() time.Time) (widget.Options, error) {
	kind, ok := models.ParseKind(strings.ToUpper(p.kind))
	if !ok {
		return widget.Options{}, fmt.Errorf("-kind must be PAYMENT, PRE_AUTH or STORE, got %q", p.kind)
	}
	if !kind.IsStore() && p.reference == "" {
		return widget.Options{}, fmt.Errorf("-reference is required for %s", kind)
	}

	clock := now
	if p.timestamp != "" {
		t, err := fptime.Parse(p.timestamp)
		if err != nil {
			return widget.Options{}, fmt.Errorf("-timestamp: %w", err)
		}
		clock = func() time.Time { return t }
	}

	var cardTypes []string
	for _, ct := range strings.Split(p.cardTypes, ",") {
		if ct = strings.TrimSpace(ct); ct != "" {
			cardTypes = append(cardTypes, ct)
		}
	}

	return widget.Options{
		Live:       p.live,
		MerchantID: p.merchant,
		CardTypes:  cardTypes,
		Kind:       kind,
		Payor:      p.payor,
		Reference:  p.reference,
		Amount:     p.amount,
		Clock:      clock,
	}, nil
}

func must(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func must1[T any](v T, err error) T {
	if err != nil {
		fail("%v", err)
	}
	return v
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
